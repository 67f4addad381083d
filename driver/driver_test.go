package driver

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/internal/boardsim"
	"github.com/piconet-go/piconet/logger"
	"github.com/piconet-go/piconet/transport"
)

func TestDriver_Connect(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require

	var states []ConnState
	var mu sync.Mutex
	rig.driver.AddStateHandler(func(_, cur ConnState) {
		mu.Lock()
		states = append(states, cur)
		mu.Unlock()
	})

	_, ok := rig.driver.LastStatus()
	require.False(ok)

	rig.connect()

	status, ok := rig.driver.LastStatus()
	require.True(ok)
	require.Equal(econet.StatusEvent{
		FirmwareVersion: boardsim.DefaultVersion,
		EconetStation:   254,
		RxMode:          econet.Stopped,
	}, status)
	require.Equal([]string{econet.CmdStatus}, rig.board.Commands())
	require.EqualValues(1, rig.driver.Metrics().ConnectAttempts.Load())

	mu.Lock()
	require.Equal([]ConnState{Connecting, Connected}, states)
	mu.Unlock()

	err := rig.driver.Connect(rig.ctx, "sim")
	require.ErrorIs(err, ErrInvalidState)
	require.Equal(Connected, rig.driver.State())
}

func TestDriver_ConnectCompatiblePatch(t *testing.T) {
	rig := newTestRig(t)
	rig.board.SetVersion("2.0.99")
	rig.connect()

	status, _ := rig.driver.LastStatus()
	rig.require.Equal("2.0.99", status.FirmwareVersion)
}

func TestDriver_ConnectVersionMismatch(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require

	rig.board.SetVersion("2.1.0")

	err := rig.driver.Connect(rig.ctx, "sim")
	require.ErrorIs(err, ErrVersion)
	var vErr *VersionError
	require.ErrorAs(err, &vErr)
	require.Equal("2.0.20", vErr.Driver)
	require.Equal("2.1.0", vErr.Firmware)
	require.Equal(Error, rig.driver.State())
	require.False(rig.dev.HostOpen())

	// the failure is recoverable
	rig.board.SetVersion("2.0.1")
	rig.connect()
	require.Equal(2, rig.dev.Opens())
}

func TestDriver_ConnectStatusTimeout(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require

	rig.board.Mute(econet.CmdStatus, true)

	start := time.Now()
	err := rig.driver.Connect(rig.ctx, "sim")
	require.ErrorIs(err, ErrTimeout)
	require.GreaterOrEqual(time.Since(start), 250*time.Millisecond)
	require.Equal(Error, rig.driver.State())
	require.False(rig.dev.HostOpen())
	require.EqualValues(1, rig.driver.Metrics().WaitTimeouts.Load())
}

func TestDriver_ConnectOpenFailure(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require

	openErr := errors.New("permission denied")
	rig.dev.FailOpen(openErr)

	err := rig.driver.Connect(rig.ctx, "sim")
	require.ErrorIs(err, openErr)
	require.Equal(Error, rig.driver.State())
	require.Zero(rig.host.Writes())

	rig.dev.FailOpen(nil)
	rig.connect()
}

func TestDriver_ConnectFactoryFailure(t *testing.T) {
	require := require.New(t)

	d, err := New(WithTransportFactory(func(string) (transport.Transport, error) {
		return nil, transport.ErrDeviceNotFound
	}))
	require.NoError(err)

	err = d.Connect(context.Background(), "")
	require.ErrorIs(err, transport.ErrDeviceNotFound)
	require.Equal(Error, d.State())
}

func TestDriver_CommandsRequireConnection(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	ctx := rig.ctx
	d := rig.driver

	require.ErrorIs(d.SetMode(ctx, econet.Listening), ErrInvalidState)
	require.ErrorIs(d.SetEconetStation(ctx, 10), ErrInvalidState)
	require.ErrorIs(d.Restart(ctx), ErrInvalidState)
	_, err := d.ReadStatus(ctx)
	require.ErrorIs(err, ErrInvalidState)
	_, err = d.Transmit(ctx, 1, 0, 0x80, 0x99, nil, nil)
	require.ErrorIs(err, ErrInvalidState)
	_, err = d.Broadcast(ctx, []byte("hi"))
	require.ErrorIs(err, ErrInvalidState)
	_, err = d.Reply(ctx, 1, nil)
	require.ErrorIs(err, ErrInvalidState)

	// the state is checked before the arguments
	err = d.SetEconetStation(ctx, 0)
	var sErr *StateError
	require.ErrorAs(err, &sErr)
	require.Equal("set station", sErr.Op)
	require.Equal(Disconnected, sErr.State)
	require.Equal("driver: cannot set station whilst in Disconnected state", err.Error())

	require.ErrorIs(d.Close(ctx), ErrInvalidState)
	require.Zero(rig.host.Writes())
}

func TestDriver_SetModeAndStation(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	require.NoError(rig.driver.SetMode(rig.ctx, econet.Monitoring))
	status, _ := rig.driver.LastStatus()
	require.Equal(econet.Monitoring, status.RxMode)

	require.NoError(rig.driver.SetEconetStation(rig.ctx, 42))
	status, _ = rig.driver.LastStatus()
	require.Equal(uint8(42), status.EconetStation)

	require.NoError(rig.driver.Restart(rig.ctx))

	status, err := rig.driver.ReadStatus(rig.ctx)
	require.NoError(err)
	require.Equal(rig.board.Status(), status)

	require.Equal([]string{
		"STATUS",
		"SET_MODE MONITOR", "STATUS",
		"SET_STATION 42", "STATUS",
		"RESTART", "STATUS",
		"STATUS",
	}, rig.board.Commands())
}

func TestDriver_Validation(t *testing.T) {
	rig := newTestRig(t)
	rig.connect()
	ctx := rig.ctx
	d := rig.driver
	writes := rig.host.Writes()

	tests := []struct {
		name string
		call func() error
	}{
		{"mode", func() error { return d.SetMode(ctx, econet.RxMode(3)) }},
		{"station zero", func() error { return d.SetEconetStation(ctx, 0) }},
		{"station 255", func() error { return d.SetEconetStation(ctx, 255) }},
		{"tx station", func() error {
			_, err := d.Transmit(ctx, 255, 0, 0x80, 0x99, nil, nil)
			return err
		}},
		{"tx network", func() error {
			_, err := d.Transmit(ctx, 1, 256, 0x80, 0x99, nil, nil)
			return err
		}},
		{"tx control byte", func() error {
			_, err := d.Transmit(ctx, 1, 0, 255, 0x99, nil, nil)
			return err
		}},
		{"tx port", func() error {
			_, err := d.Transmit(ctx, 1, 0, 0x80, -1, nil, nil)
			return err
		}},
		{"tx data", func() error {
			_, err := d.Transmit(ctx, 1, 0, 0x80, 0x99, make([]byte, econet.MaxTxDataLength+1), nil)
			return err
		}},
		{"tx extra scout data", func() error {
			_, err := d.Transmit(ctx, 1, 0, 0x80, 0x99, nil, make([]byte, econet.MaxScoutExtraDataLength+1))
			return err
		}},
		{"broadcast data", func() error {
			_, err := d.Broadcast(ctx, make([]byte, econet.MaxTxDataLength+1))
			return err
		}},
		{"reply id", func() error {
			_, err := d.Reply(ctx, -1, nil)
			return err
		}},
		{"reply data", func() error {
			_, err := d.Reply(ctx, 1, make([]byte, econet.MaxTxDataLength+1))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			err := tt.call()
			require.ErrorIs(err, ErrValidation)
			require.Equal(writes, rig.host.Writes())
		})
	}
}

func TestDriver_Transmit(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	data := bytes.Repeat([]byte{0xaa}, econet.MaxTxDataLength)
	result, err := rig.driver.Transmit(rig.ctx, 254, 0, 0x80, 0x99, data, nil)
	require.NoError(err)
	require.True(result.Success())

	extra := []byte{1, 2, 3, 4}
	rig.board.SetTxResult(econet.ResultNoScoutAck)
	result, err = rig.driver.Transmit(rig.ctx, 1, 0, 0x85, 0, []byte{0}, extra)
	require.NoError(err)
	require.False(result.Success())
	require.Equal(econet.ResultNoScoutAck, result.Result)

	cmds := rig.board.Commands()
	require.Len(cmds, 3)
	require.True(strings.HasPrefix(cmds[1], "TX 254 0 128 153 "))
	require.Equal(econet.TxCommand(1, 0, 0x85, 0, []byte{0}, extra).String(), cmds[2])
}

func TestDriver_TransmitTimeout(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	rig.board.Mute(econet.CmdTx, true)
	_, err := rig.driver.Transmit(rig.ctx, 1, 0, 0x80, 0x99, []byte("x"), nil)
	require.ErrorIs(err, ErrTimeout)
	var tErr *TimeoutError
	require.ErrorAs(err, &tErr)
	require.Equal("transmit", tErr.Op)

	// a timeout does not affect the connection
	require.Equal(Connected, rig.driver.State())
	rig.board.Mute(econet.CmdTx, false)
	result, err := rig.driver.Transmit(rig.ctx, 1, 0, 0x80, 0x99, []byte("x"), nil)
	require.NoError(err)
	require.True(result.Success())
}

func TestDriver_Broadcast(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	rig.board.SetTxResult(econet.ResultLineJammed)
	result, err := rig.driver.Broadcast(rig.ctx, []byte{1, 2, 3})
	require.NoError(err)
	require.Equal(econet.TxResultEvent{Result: econet.ResultLineJammed}, result)
	require.Equal("BCAST AQID", rig.board.Commands()[1])
}

func TestDriver_Reply(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	q := rig.driver.NewEventQueue(MatchKind(econet.KindRxTransmit))
	defer q.Destroy()

	id, err := rig.board.EmitTransmit(rig.ctx, []byte{1, 0, 254, 0, 0x80, 0x99}, []byte{254, 0, 1, 0, 'h', 'i'})
	require.NoError(err)

	evt, err := q.Wait(rig.ctx, time.Second)
	require.NoError(err)
	rx := evt.(econet.RxTransmitEvent)
	require.Equal(id, rx.ReceiveID)

	result, err := rig.driver.Reply(rig.ctx, rx.ReceiveID, []byte("ok"))
	require.NoError(err)
	require.True(result.Success())

	// a receive id can only be answered once
	result, err = rig.driver.Reply(rig.ctx, rx.ReceiveID, []byte("ok"))
	require.NoError(err)
	require.Equal(econet.ResultInvalidReceiveID, result.Result)
}

func TestDriver_Events(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()
	require.NoError(rig.driver.SetMode(rig.ctx, econet.Monitoring))

	q := rig.driver.NewEventQueue(MatchKind(econet.KindMonitor, econet.KindRxBroadcast,
		econet.KindRxImmediate, econet.KindError))
	defer q.Destroy()

	require.NoError(rig.board.EmitMonitor(rig.ctx, []byte{1, 2}))
	require.NoError(rig.board.EmitBroadcast(rig.ctx, []byte{3, 4}))
	require.NoError(rig.board.EmitImmediate(rig.ctx, []byte{5}, []byte{6}))
	require.NoError(rig.board.Emit(rig.ctx, "ERROR buffer overrun"))

	var got []econet.Event
	for range 4 {
		evt, err := q.Wait(rig.ctx, time.Second)
		require.NoError(err)
		got = append(got, evt)
	}

	require.Equal([]econet.Event{
		econet.MonitorEvent{EconetFrame: []byte{1, 2}},
		econet.RxBroadcastEvent{EconetFrame: []byte{3, 4}},
		econet.RxImmediateEvent{ScoutFrame: []byte{5}, DataFrame: []byte{6}},
		econet.ErrorEvent{Description: "buffer overrun"},
	}, got)
}

func TestDriver_LargestMonitorFrame(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()
	require.NoError(rig.driver.SetMode(rig.ctx, econet.Monitoring))

	q := rig.driver.NewEventQueue(MatchKind(econet.KindMonitor))
	defer q.Destroy()

	frame := bytes.Repeat([]byte{0x5a}, transport.MaxFrameSize)
	require.NoError(rig.board.EmitMonitor(rig.ctx, frame))

	evt, err := q.Wait(rig.ctx, time.Second)
	require.NoError(err)
	require.Equal(econet.MonitorEvent{EconetFrame: frame}, evt)
	require.Zero(rig.driver.Metrics().ProtocolErrors.Load())
}

func TestDriver_ProtocolError(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	q := rig.driver.NewEventQueue(nil)
	defer q.Destroy()

	require.NoError(rig.board.Emit(rig.ctx, "TX_RESULT"))
	require.NoError(rig.board.Emit(rig.ctx, "UNKNOWN_TAG 1 2 3"))
	require.NoError(rig.board.Emit(rig.ctx, "ERROR still alive"))

	evt, err := q.Wait(rig.ctx, time.Second)
	require.NoError(err)
	require.Equal(econet.ErrorEvent{Description: "still alive"}, evt)
	require.Zero(q.Len())

	m := rig.driver.Metrics()
	require.EqualValues(1, m.ProtocolErrors.Load())
	require.Equal(Connected, rig.driver.State())
}

func TestDriver_ListenerPanic(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	rig.driver.AddListener(NewListener(func(econet.Event) { panic("listener bug") }))

	var received []econet.Event
	var mu sync.Mutex
	rig.driver.AddListener(NewListener(func(evt econet.Event) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	}))

	status, err := rig.driver.ReadStatus(rig.ctx)
	require.NoError(err)
	require.Equal(rig.board.Status(), status)

	mu.Lock()
	require.Equal([]econet.Event{status}, received)
	mu.Unlock()
	require.EqualValues(1, rig.driver.Metrics().ListenerPanics.Load())
}

func TestDriver_Close(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	l := NewListener(func(econet.Event) {})
	rig.driver.AddListener(l)

	require.NoError(rig.driver.Close(rig.ctx))
	require.Equal(Disconnected, rig.driver.State())
	require.False(rig.dev.HostOpen())
	require.Zero(rig.driver.taskMgr.Count())

	// listeners survive a reconnection
	require.Equal(1, rig.driver.bus.Len())
	rig.connect()
	require.Equal(1, rig.driver.bus.Len())
}

func TestDriver_CloseDuringTransmit(t *testing.T) {
	rig := newTestRig(t)
	require := rig.require
	rig.connect()

	rig.board.Mute(econet.CmdTx, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := rig.driver.Transmit(context.Background(), 1, 0, 0x80, 0x99, []byte("x"), nil)
		errCh <- err
	}()

	require.Eventually(func() bool {
		return slices.ContainsFunc(rig.board.Commands(), func(c string) bool {
			return strings.HasPrefix(c, econet.CmdTx+" ")
		})
	}, time.Second, time.Millisecond)

	require.NoError(rig.driver.Close(rig.ctx))
	require.ErrorIs(<-errCh, ErrClosed)
	require.Equal(0, rig.driver.bus.Len())
}

func TestDriver_LinkLost(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		devs   []*transport.PipeDevice
		boards []*boardsim.Board
	)
	factory := func(string) (transport.Transport, error) {
		host, dev := transport.Pipe()
		board := boardsim.New(dev, nil)
		board.Start(ctx)
		mu.Lock()
		devs = append(devs, dev)
		boards = append(boards, board)
		mu.Unlock()
		return host, nil
	}

	d, err := New(WithTransportFactory(factory), WithStatusTimeout(300*time.Millisecond))
	require.NoError(err)
	require.NoError(d.Connect(ctx, "sim"))

	mu.Lock()
	devs[0].Unplug()
	mu.Unlock()

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(d.WaitState(waitCtx, Error))

	_, err = d.ReadStatus(ctx)
	require.ErrorIs(err, ErrInvalidState)

	require.NoError(d.Connect(ctx, "sim"))
	require.Equal(Connected, d.State())

	mu.Lock()
	require.Len(boards, 2)
	mu.Unlock()

	require.NoError(d.Close(ctx))
}

func TestDriver_DiscardWhenNotConnected(t *testing.T) {
	require := require.New(t)

	host, dev := transport.Pipe()
	d, err := New(WithTransport(host))
	require.NoError(err)

	ctx := context.Background()
	require.NoError(host.Open(ctx))
	require.NoError(dev.WriteEvent(ctx, "ERROR ignored"))

	line, err := host.ReadLine(ctx)
	require.NoError(err)
	d.dispatch(line)

	require.EqualValues(1, d.Metrics().LinesRecv.Load())
	require.EqualValues(1, d.Metrics().LinesDiscarded.Load())
	require.Zero(d.Metrics().EventsFired.Load())
}

func TestDriver_DebugLogging(t *testing.T) {
	require := require.New(t)

	host, dev := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	board := boardsim.New(dev, logger.GetLogger())
	done := board.Start(ctx)
	defer func() {
		cancel()
		<-done
	}()

	l := logger.NewMockLogger()
	l.On("Debug", "tx line", []any{"line", "STATUS"}).Once()
	l.On("Debug", "rx line", []any{"line", "STATUS 2.0.20 254 00 0"}).Once()
	l.Permissive()

	d, err := New(WithTransport(host), WithLogger(l), WithDebug(true))
	require.NoError(err)
	require.NoError(d.Connect(ctx, "sim"))
	require.NoError(d.Close(ctx))

	l.AssertCalled(t, "Debug", "tx line", []any{"line", "STATUS"})
	l.AssertCalled(t, "Debug", "rx line", []any{"line", "STATUS 2.0.20 254 00 0"})
	l.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}
