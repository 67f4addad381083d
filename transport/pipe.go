package transport

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/piconet-go/piconet/internal/util"
)

const pipeBufferSize = 256

// pipeLink is the state shared by both ends of a pipe.
type pipeLink struct {
	mu       sync.Mutex
	open     bool
	closed   chan struct{} // closed when the host closes; recreated on Open
	openErr  error
	opens    int
	toDevice chan string
	toHost   chan []byte

	unplugged  chan struct{}
	unplugOnce sync.Once
}

// PipeHost is the host end of an in-memory link. It implements Transport.
type PipeHost struct {
	link   *pipeLink
	writes atomic.Int64

	readMu  sync.Mutex
	lines   *lineBuffer
	pending []string
}

// PipeDevice is the device end of an in-memory link. Tests and simulations use it to
// play the part of the board firmware.
type PipeDevice struct {
	link *pipeLink
}

var _ Transport = (*PipeHost)(nil)

// Pipe creates a connected pair of endpoints. Inbound lines written with PipeDevice.WriteEvent
// go through the same CR-LF splitting as a serial port.
func Pipe() (*PipeHost, *PipeDevice) {
	link := &pipeLink{
		closed:    make(chan struct{}),
		toDevice:  make(chan string, pipeBufferSize),
		toHost:    make(chan []byte, pipeBufferSize),
		unplugged: make(chan struct{}),
	}
	close(link.closed)

	return &PipeHost{link: link, lines: newLineBuffer(DefaultMaxLineLength)}, &PipeDevice{link: link}
}

func (h *PipeHost) Name() string { return "pipe" }

// Open opens the host end. It fails with the error set by PipeDevice.FailOpen, or with
// io.ErrClosedPipe once the device has been unplugged.
func (h *PipeHost) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.readMu.Lock()
	defer h.readMu.Unlock()

	l := h.link
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open {
		return nil
	}
	if l.isUnplugged() {
		return io.ErrClosedPipe
	}
	if l.openErr != nil {
		return l.openErr
	}

	// input that arrived while closed is lost, as on a real port
	for drained := false; !drained; {
		select {
		case <-l.toHost:
		default:
			drained = true
		}
	}
	h.lines.reset()
	h.pending = nil

	l.open = true
	l.opens++
	l.closed = make(chan struct{})

	return nil
}

func (h *PipeHost) WriteLine(ctx context.Context, line string) error {
	closed, err := h.link.current()
	if err != nil {
		return err
	}
	if h.link.isUnplugged() {
		return io.ErrClosedPipe
	}

	select {
	case h.link.toDevice <- line + "\r":
		h.writes.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return ErrNotOpen
	case <-h.link.unplugged:
		return io.ErrClosedPipe
	}
}

func (h *PipeHost) ReadLine(ctx context.Context) (string, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	for {
		if len(h.pending) > 0 {
			line := h.pending[0]
			h.pending = h.pending[1:]
			return line, nil
		}

		closed, err := h.link.current()
		if err != nil {
			return "", err
		}

		select {
		case chunk := <-h.link.toHost:
			lines, _ := h.lines.push(chunk)
			h.pending = append(h.pending, lines...)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-closed:
			return "", ErrNotOpen
		case <-h.link.unplugged:
			return "", io.EOF
		}
	}
}

func (h *PipeHost) Close() error {
	l := h.link
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil
	}
	l.open = false
	close(l.closed)

	return nil
}

// Writes returns the number of lines written by the host.
func (h *PipeHost) Writes() int64 {
	return h.writes.Load()
}

func (l *pipeLink) current() (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil, ErrNotOpen
	}
	return l.closed, nil
}

// isUnplugged reports whether the device is gone. Callers check it before selecting so that
// a send into a buffer with room never wins over an unplug.
func (l *pipeLink) isUnplugged() bool {
	select {
	case <-l.unplugged:
		return true
	default:
		return false
	}
}

// ReadCommand blocks until the host writes a line and returns it without its carriage return.
func (d *PipeDevice) ReadCommand(ctx context.Context) (string, error) {
	if d.link.isUnplugged() {
		return "", io.ErrClosedPipe
	}

	select {
	case line := <-d.link.toDevice:
		return strings.TrimSuffix(line, "\r"), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.link.unplugged:
		return "", io.ErrClosedPipe
	}
}

// WriteEvent sends line to the host, terminated with CR-LF.
func (d *PipeDevice) WriteEvent(ctx context.Context, line string) error {
	return d.WriteRaw(ctx, []byte(line+"\r\n"))
}

// WriteRaw sends raw bytes to the host, which may hold partial or several lines.
func (d *PipeDevice) WriteRaw(ctx context.Context, data []byte) error {
	if d.link.isUnplugged() {
		return io.ErrClosedPipe
	}

	select {
	case d.link.toHost <- util.CloneSlice(data, 0):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.link.unplugged:
		return io.ErrClosedPipe
	}
}

// FailOpen makes subsequent host Open calls fail with err. A nil err restores normal behaviour.
func (d *PipeDevice) FailOpen(err error) {
	d.link.mu.Lock()
	d.link.openErr = err
	d.link.mu.Unlock()
}

// HostOpen reports whether the host end is currently open.
func (d *PipeDevice) HostOpen() bool {
	d.link.mu.Lock()
	defer d.link.mu.Unlock()
	return d.link.open
}

// Opens returns how many times the host end has been opened.
func (d *PipeDevice) Opens() int {
	d.link.mu.Lock()
	defer d.link.mu.Unlock()
	return d.link.opens
}

// Unplug simulates the device disappearing: pending and future host reads fail with io.EOF.
func (d *PipeDevice) Unplug() {
	d.link.unplugOnce.Do(func() { close(d.link.unplugged) })
}
