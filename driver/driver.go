package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/internal/task"
	"github.com/piconet-go/piconet/logger"
	"github.com/piconet-go/piconet/semver"
	"github.com/piconet-go/piconet/transport"
)

// Driver is a handle on one Piconet board.
//
// A Driver owns its transport, its listeners and its connection state; several drivers with
// separate transports can be used in the same process.
type Driver struct {
	cfg     *Config
	logger  logger.Logger
	bus     *Bus
	metrics *Metrics
	state   *connStateMgr
	taskMgr *task.Manager

	// cmdMu serializes command exchanges, so that a reply is awaited by the command that caused it.
	cmdMu sync.Mutex

	connMu     sync.Mutex // protect transport, connCtx and connCancel
	transport  transport.Transport
	connCtx    context.Context
	connCancel context.CancelFunc

	lastStatus atomic.Pointer[econet.StatusEvent]
}

// New creates a driver in the Disconnected state.
func New(opts ...Option) (*Driver, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("component", "driver")
	metrics := &Metrics{}

	return &Driver{
		cfg:     cfg,
		logger:  l,
		bus:     newBus(l, metrics),
		metrics: metrics,
		state:   newConnStateMgr(l),
		taskMgr: task.NewManager(context.Background(), l),
	}, nil
}

// Config returns the driver configuration.
func (d *Driver) Config() *Config { return d.cfg }

// State returns the current connection state.
func (d *Driver) State() ConnState { return d.state.State() }

// Metrics returns the driver's counters.
func (d *Driver) Metrics() *Metrics { return d.metrics }

// LastStatus returns the most recent status reported by the board, if any.
func (d *Driver) LastStatus() (econet.StatusEvent, bool) {
	status := d.lastStatus.Load()
	if status == nil {
		return econet.StatusEvent{}, false
	}
	return *status, true
}

// AddStateHandler registers handlers invoked on every connection state change.
func (d *Driver) AddStateHandler(handlers ...StateChangeHandler) {
	d.state.addHandler(handlers...)
}

// WaitState waits until the connection reaches state or ctx is done.
func (d *Driver) WaitState(ctx context.Context, state ConnState) error {
	return d.state.waitState(ctx, state)
}

// AddListener registers l for every event received from the board.
func (d *Driver) AddListener(l *Listener) { d.bus.AddListener(l) }

// RemoveListener deregisters l.
func (d *Driver) RemoveListener(l *Listener) { d.bus.RemoveListener(l) }

// WaitForEvent waits for the first event accepted by m. See Bus.WaitForEvent.
func (d *Driver) WaitForEvent(ctx context.Context, m Matcher, timeout time.Duration) (econet.Event, error) {
	return d.bus.WaitForEvent(ctx, m, timeout)
}

// NewEventQueue creates a queue collecting the events accepted by m. The caller must Destroy it.
func (d *Driver) NewEventQueue(m Matcher) *EventQueue {
	return d.bus.NewEventQueue(m)
}

// Connect opens the transport for device, reads the board status and checks that the firmware
// version is compatible with the driver. An empty device selects auto-detection when the default
// transport factory is used.
//
// Connect is allowed from the Disconnected and Error states. On failure the transport is closed,
// the state becomes Error and Connect may be retried.
func (d *Driver) Connect(ctx context.Context, device string) error {
	d.metrics.incConnectAttempts()

	if !d.state.transition(Connecting, Disconnected, Error) {
		return &StateError{Op: "connect", State: d.State()}
	}
	d.logger.Info("connecting", "device", device)

	// a reader left by a lost link must be gone before a new one starts
	d.taskMgr.Stop()
	d.taskMgr.Wait()

	tr, err := d.cfg.factory(device)
	if err != nil {
		return d.abortConnect(nil, fmt.Errorf("driver: create transport: %w", err))
	}
	if err := tr.Open(ctx); err != nil {
		return d.abortConnect(nil, fmt.Errorf("driver: open %s: %w", tr.Name(), err))
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	d.connMu.Lock()
	d.transport = tr
	d.connCtx, d.connCancel = connCtx, connCancel
	d.connMu.Unlock()

	if err := d.taskMgr.Start("reader", d.readLoop(tr), nil); err != nil {
		return d.abortConnect(tr, fmt.Errorf("driver: start reader: %w", err))
	}

	d.cmdMu.Lock()
	status, err := d.readStatus(ctx)
	d.cmdMu.Unlock()
	if err != nil {
		return d.abortConnect(tr, err)
	}

	firmware, err := semver.Parse(status.FirmwareVersion)
	if err != nil {
		return d.abortConnect(tr, fmt.Errorf("driver: board reports invalid version: %w", err))
	}
	if !semver.Compatible(firmware, d.cfg.driverVersion) {
		return d.abortConnect(tr, &VersionError{
			Driver:   d.cfg.driverVersion.String(),
			Firmware: status.FirmwareVersion,
		})
	}

	if !d.state.transition(Connected, Connecting) {
		return d.abortConnect(tr, fmt.Errorf("driver: link lost while connecting: %w", ErrClosed))
	}
	d.logger.Info("connected",
		"transport", tr.Name(),
		"firmware", status.FirmwareVersion,
		"station", status.EconetStation,
		"mode", status.RxMode.String(),
	)

	return nil
}

// abortConnect tears down a failed connection attempt and moves to the Error state.
func (d *Driver) abortConnect(tr transport.Transport, cause error) error {
	d.connMu.Lock()
	if d.connCancel != nil {
		d.connCancel()
	}
	d.transport = nil
	d.connMu.Unlock()

	d.taskMgr.Stop()
	if tr != nil {
		if err := tr.Close(); err != nil {
			d.logger.Warn("failed to close transport", "transport", tr.Name(), "error", err)
		}
	}
	d.taskMgr.Wait()

	d.state.set(Error)
	d.logger.Error("connect failed", "error", cause)

	return cause
}

// Close stops the reader, drains and closes the transport, and returns to Disconnected.
// A close error is returned, but the driver still ends up Disconnected.
func (d *Driver) Close(ctx context.Context) error {
	if !d.state.transition(Disconnecting, Connected) {
		return &StateError{Op: "close", State: d.State()}
	}
	d.logger.Info("closing connection")

	d.connMu.Lock()
	tr := d.transport
	d.transport = nil
	if d.connCancel != nil {
		d.connCancel()
	}
	d.connMu.Unlock()

	d.taskMgr.Stop()

	var closeErr error
	if tr != nil {
		if err := tr.Close(); err != nil {
			closeErr = fmt.Errorf("driver: close %s: %w", tr.Name(), err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		d.taskMgr.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		d.logger.Warn("reader still running after close", "error", ctx.Err())
		closeErr = errors.Join(closeErr, ctx.Err())
	}

	d.state.set(Disconnected)
	d.logger.Info("connection closed")

	return closeErr
}

// ReadStatus asks the board for its status and returns it. It is allowed while Connecting
// or Connected.
func (d *Driver) ReadStatus(ctx context.Context) (econet.StatusEvent, error) {
	if err := d.requireState("read status", Connecting, Connected); err != nil {
		return econet.StatusEvent{}, err
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	return d.readStatus(ctx)
}

func (d *Driver) readStatus(ctx context.Context) (econet.StatusEvent, error) {
	evt, err := d.exchange(ctx, "read status", econet.StatusCommand(),
		MatchKind(econet.KindStatus), d.cfg.statusTimeout)
	if err != nil {
		return econet.StatusEvent{}, err
	}

	status, _ := evt.(econet.StatusEvent)
	d.lastStatus.Store(&status)

	return status, nil
}

// SetMode changes the receive mode of the board, then re-reads its status.
func (d *Driver) SetMode(ctx context.Context, mode econet.RxMode) error {
	if err := d.requireState("set mode", Connected); err != nil {
		return err
	}
	if !mode.Valid() {
		return validationErr("mode", mode, "unknown receive mode")
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if err := d.send(ctx, econet.SetModeCommand(mode)); err != nil {
		return err
	}
	_, err := d.readStatus(ctx)

	return err
}

// SetEconetStation changes the station number of the board, then re-reads its status.
func (d *Driver) SetEconetStation(ctx context.Context, station int) error {
	if err := d.requireState("set station", Connected); err != nil {
		return err
	}
	if station < 1 || station > 254 {
		return validationErr("station", station, "must be between 1 and 254")
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if err := d.send(ctx, econet.SetStationCommand(station)); err != nil {
		return err
	}
	_, err := d.readStatus(ctx)

	return err
}

// Restart resets the board's link controller, then re-reads its status.
func (d *Driver) Restart(ctx context.Context) error {
	if err := d.requireState("restart", Connected); err != nil {
		return err
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if err := d.send(ctx, econet.RestartCommand()); err != nil {
		return err
	}
	_, err := d.readStatus(ctx)

	return err
}

// Transmit sends data to a station and waits for the board to report the outcome.
//
// extraScoutData is appended to the scout frame, as some immediate operations require; nil omits it.
// A failed transmission is not an error: inspect the returned event's Result.
func (d *Driver) Transmit(ctx context.Context, station, network, controlByte, port int,
	data, extraScoutData []byte,
) (econet.TxResultEvent, error) {
	if err := d.requireState("transmit", Connected); err != nil {
		return econet.TxResultEvent{}, err
	}
	if err := validateTransmit(station, network, controlByte, port, data, extraScoutData); err != nil {
		return econet.TxResultEvent{}, err
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	cmd := econet.TxCommand(station, network, controlByte, port, data, extraScoutData)
	evt, err := d.exchange(ctx, "transmit", cmd, MatchKind(econet.KindTxResult), d.cfg.txTimeout)
	if err != nil {
		return econet.TxResultEvent{}, err
	}
	result, _ := evt.(econet.TxResultEvent)

	return result, nil
}

func validateTransmit(station, network, controlByte, port int, data, extraScoutData []byte) error {
	if station < 1 || station > 254 {
		return validationErr("station", station, "must be between 1 and 254")
	}
	if network < 0 || network > 255 {
		return validationErr("network", network, "must be between 0 and 255")
	}
	if controlByte < 0 || controlByte > 254 {
		return validationErr("control byte", controlByte, "must be between 0 and 254")
	}
	if port < 0 || port > 255 {
		return validationErr("port", port, "must be between 0 and 255")
	}
	if len(data) > econet.MaxTxDataLength {
		return validationErr("data length", len(data), "must be at most %d bytes", econet.MaxTxDataLength)
	}
	if len(extraScoutData) > econet.MaxScoutExtraDataLength {
		return validationErr("extra scout data length", len(extraScoutData),
			"must be at most %d bytes", econet.MaxScoutExtraDataLength)
	}

	return nil
}

// Broadcast sends data to every station and waits for the board to report the outcome.
func (d *Driver) Broadcast(ctx context.Context, data []byte) (econet.TxResultEvent, error) {
	if err := d.requireState("broadcast", Connected); err != nil {
		return econet.TxResultEvent{}, err
	}
	if len(data) > econet.MaxTxDataLength {
		return econet.TxResultEvent{}, validationErr("data length", len(data),
			"must be at most %d bytes", econet.MaxTxDataLength)
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	evt, err := d.exchange(ctx, "broadcast", econet.BroadcastCommand(data),
		MatchKind(econet.KindTxResult), d.cfg.txTimeout)
	if err != nil {
		return econet.TxResultEvent{}, err
	}
	result, _ := evt.(econet.TxResultEvent)

	return result, nil
}

// Reply answers the transmit identified by receiveID, as reported by an RxTransmitEvent,
// and waits for the board to report the outcome.
func (d *Driver) Reply(ctx context.Context, receiveID int, data []byte) (econet.ReplyResultEvent, error) {
	if err := d.requireState("reply", Connected); err != nil {
		return econet.ReplyResultEvent{}, err
	}
	if receiveID < 0 {
		return econet.ReplyResultEvent{}, validationErr("receive id", receiveID, "must not be negative")
	}
	if len(data) > econet.MaxTxDataLength {
		return econet.ReplyResultEvent{}, validationErr("data length", len(data),
			"must be at most %d bytes", econet.MaxTxDataLength)
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	evt, err := d.exchange(ctx, "reply", econet.ReplyCommand(receiveID, data),
		MatchKind(econet.KindReplyResult), d.cfg.replyTimeout)
	if err != nil {
		return econet.ReplyResultEvent{}, err
	}
	result, _ := evt.(econet.ReplyResultEvent)

	return result, nil
}

func (d *Driver) requireState(op string, allowed ...ConnState) error {
	cur := d.State()
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	return &StateError{Op: op, State: cur}
}

// link returns the open transport and the context of the current connection.
func (d *Driver) link() (transport.Transport, context.Context, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.transport == nil {
		return nil, nil, ErrClosed
	}
	return d.transport, d.connCtx, nil
}

// send writes a command that expects no reply.
func (d *Driver) send(ctx context.Context, cmd econet.Command) error {
	tr, _, err := d.link()
	if err != nil {
		return fmt.Errorf("driver: send %s: %w", cmd.Keyword(), err)
	}
	return d.write(ctx, tr, cmd)
}

func (d *Driver) write(ctx context.Context, tr transport.Transport, cmd econet.Command) error {
	if d.cfg.debug {
		d.logger.Debug("tx line", "line", cmd.String())
	}
	if err := tr.WriteLine(ctx, cmd.String()); err != nil {
		return fmt.Errorf("driver: write %s: %w", cmd.Keyword(), err)
	}
	d.metrics.incCommandsSent()

	return nil
}

// exchange writes cmd and waits for the first event accepted by m. The waiter is registered
// before the write, since the reply may be read before WriteLine returns.
func (d *Driver) exchange(ctx context.Context, op string, cmd econet.Command, m Matcher,
	timeout time.Duration,
) (econet.Event, error) {
	tr, connCtx, err := d.link()
	if err != nil {
		return nil, fmt.Errorf("driver: %s: %w", op, err)
	}

	w := d.bus.expect(op, m)
	if err := d.write(ctx, tr, cmd); err != nil {
		w.Cancel()
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(connCtx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	evt, err := w.Wait(wctx, timeout)
	if err != nil {
		if ctx.Err() == nil && connCtx.Err() != nil {
			return nil, fmt.Errorf("driver: %s: %w", op, ErrClosed)
		}
		return nil, err
	}

	return evt, nil
}

// readLoop returns the reader task for tr.
func (d *Driver) readLoop(tr transport.Transport) task.Func {
	return func(ctx context.Context) bool {
		line, err := tr.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			d.linkLost(tr, err)
			return false
		}

		d.dispatch(line)

		return true
	}
}

// dispatch decodes an inbound line and publishes its events.
func (d *Driver) dispatch(line string) {
	d.metrics.incLinesRecv()
	if d.cfg.debug {
		d.logger.Debug("rx line", "line", line)
	}

	st := d.State()
	if st != Connecting && st != Connected {
		d.metrics.incLinesDiscarded()
		d.logger.Debug("discarding line", "state", st.String(), "line", line)
		return
	}

	events, errs := econet.Decode(line)
	for _, err := range errs {
		d.metrics.incProtocolErrors()
		d.logger.Warn("malformed line from board", "error", err)
	}
	for _, evt := range events {
		if e, ok := evt.(econet.ErrorEvent); ok {
			d.logger.Warn("board reported error", "description", e.Description)
		}
		d.bus.Fire(evt)
	}
}

// linkLost handles a transport read failure. While connecting, the pending status wait is
// released and Connect cleans up; once connected, the driver moves to Error.
func (d *Driver) linkLost(tr transport.Transport, cause error) {
	d.logger.Error("transport read failed", "transport", tr.Name(), "error", cause)

	d.connMu.Lock()
	if d.connCancel != nil {
		d.connCancel()
	}
	owned := d.transport == tr
	d.connMu.Unlock()

	if !d.state.transition(Error, Connected) {
		return
	}

	d.connMu.Lock()
	if owned && d.transport == tr {
		d.transport = nil
	}
	d.connMu.Unlock()

	if err := tr.Close(); err != nil {
		d.logger.Warn("failed to close transport", "transport", tr.Name(), "error", err)
	}
}
