// Package boardsim simulates the firmware of a Piconet board on the device end of a
// transport.Pipe. The driver tests and the examples' -sim mode use it in place of hardware.
package boardsim

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/internal/util"
	"github.com/piconet-go/piconet/logger"
	"github.com/piconet-go/piconet/transport"
)

// DefaultVersion is the firmware version reported unless overridden.
const DefaultVersion = "2.0.20"

// Board is a simulated board. Its zero value is not usable; create it with New.
type Board struct {
	dev    *transport.PipeDevice
	logger logger.Logger

	mu          sync.Mutex
	version     string
	station     uint8
	sr1         uint8
	mode        econet.RxMode
	txResult    string
	replyResult string
	muted       map[string]bool
	commands    []string
	nextID      int
	pendingIDs  map[int]bool
}

// New creates a board answering on dev.
func New(dev *transport.PipeDevice, l logger.Logger) *Board {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Board{
		dev:         dev,
		logger:      l.With("component", "boardsim"),
		version:     DefaultVersion,
		station:     254,
		txResult:    econet.ResultOK,
		replyResult: econet.ResultOK,
		muted:       make(map[string]bool),
		pendingIDs:  make(map[int]bool),
	}
}

// Start runs the board in a goroutine until ctx is done or the device is unplugged.
// The returned channel is closed when it stops.
func (b *Board) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Debug("board stopped", "error", err)
		}
	}()

	return done
}

// Run answers commands until ctx is done or the device is unplugged.
func (b *Board) Run(ctx context.Context) error {
	for {
		cmd, err := b.dev.ReadCommand(ctx)
		if err != nil {
			return err
		}
		if err := b.handle(ctx, cmd); err != nil {
			return err
		}
	}
}

func (b *Board) handle(ctx context.Context, cmd string) error {
	terms := strings.Fields(cmd)
	if len(terms) == 0 {
		return nil
	}
	keyword := terms[0]

	b.mu.Lock()
	b.commands = append(b.commands, cmd)
	muted := b.muted[keyword]
	b.mu.Unlock()

	b.logger.Debug("command received", "command", cmd)

	var reply string
	switch keyword {
	case econet.CmdStatus:
		reply = b.statusLine()
	case econet.CmdRestart:
	case econet.CmdSetMode:
		if len(terms) == 2 {
			b.setMode(terms[1])
		}
	case econet.CmdSetStation:
		if len(terms) == 2 {
			if n, err := strconv.ParseUint(terms[1], 10, 8); err == nil {
				b.mu.Lock()
				b.station = uint8(n)
				b.mu.Unlock()
			}
		}
	case econet.CmdTx, econet.CmdBroadcast:
		b.mu.Lock()
		reply = econet.TagTxResult + " " + b.txResult
		b.mu.Unlock()
	case econet.CmdReply:
		reply = econet.TagReplyResult + " " + b.reply(terms)
	default:
		b.logger.Debug("unknown command", "command", cmd)
	}

	if reply == "" || muted {
		return nil
	}

	return b.dev.WriteEvent(ctx, reply)
}

func (b *Board) statusLine() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return fmt.Sprintf("%s %s %d %02x %d", econet.TagStatus, b.version, b.station, b.sr1, uint8(b.mode))
}

func (b *Board) setMode(keyword string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, mode := range []econet.RxMode{econet.Stopped, econet.Listening, econet.Monitoring} {
		if mode.Command() == keyword {
			b.mode = mode
			return
		}
	}
}

func (b *Board) reply(terms []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(terms) != 3 {
		return econet.ResultMisc
	}
	id, err := strconv.Atoi(terms[1])
	if err != nil || !b.pendingIDs[id] {
		return econet.ResultInvalidReceiveID
	}
	if _, err := base64.StdEncoding.DecodeString(terms[2]); err != nil {
		return econet.ResultMisc
	}
	delete(b.pendingIDs, id)

	return b.replyResult
}

// Emit sends a raw event line to the host.
func (b *Board) Emit(ctx context.Context, line string) error {
	return b.dev.WriteEvent(ctx, line)
}

// EmitMonitor reports a frame seen in monitoring mode.
func (b *Board) EmitMonitor(ctx context.Context, frame []byte) error {
	return b.Emit(ctx, econet.TagMonitor+" "+base64.StdEncoding.EncodeToString(frame))
}

// EmitBroadcast reports a received broadcast frame.
func (b *Board) EmitBroadcast(ctx context.Context, frame []byte) error {
	return b.Emit(ctx, econet.TagRxBroadcast+" "+base64.StdEncoding.EncodeToString(frame))
}

// EmitImmediate reports a received immediate operation.
func (b *Board) EmitImmediate(ctx context.Context, scout, data []byte) error {
	return b.Emit(ctx, econet.TagRxImmediate+" "+
		base64.StdEncoding.EncodeToString(scout)+" "+base64.StdEncoding.EncodeToString(data))
}

// EmitTransmit reports a received transmit and returns the receive id a reply must quote.
func (b *Board) EmitTransmit(ctx context.Context, scout, data []byte) (int, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.pendingIDs[id] = true
	b.mu.Unlock()

	line := fmt.Sprintf("%s %d %s %s", econet.TagRxTransmit, id,
		base64.StdEncoding.EncodeToString(scout), base64.StdEncoding.EncodeToString(data))

	return id, b.Emit(ctx, line)
}

// SetVersion sets the firmware version reported by STATUS.
func (b *Board) SetVersion(version string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = version
}

// SetTxResult sets the result code reported for TX and BCAST.
func (b *Board) SetTxResult(result string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txResult = result
}

// SetReplyResult sets the result code reported for a valid REPLY.
func (b *Board) SetReplyResult(result string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replyResult = result
}

// Mute stops or resumes answering commands with the given keyword.
func (b *Board) Mute(keyword string, muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted[keyword] = muted
}

// Status returns the simulated board configuration.
func (b *Board) Status() econet.StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return econet.StatusEvent{
		FirmwareVersion: b.version,
		EconetStation:   b.station,
		StatusRegister1: b.sr1,
		RxMode:          b.mode,
	}
}

// Commands returns every command received so far.
func (b *Board) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return util.CloneSlice(b.commands, 0)
}
