package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/piconet-go/piconet/logger"
)

// Serial link defaults for the Piconet board.
const (
	DefaultBaudRate        = 115200
	DefaultReadTimeout     = 300 * time.Millisecond
	defaultSerialReadChunk = 512
)

// openPort opens the named serial port. Tests replace it with a fake port.
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

type serialConfig struct {
	baudRate      int
	readTimeout   time.Duration
	maxLineLength int
	logger        logger.Logger
}

// SerialOption is a functional option for configuring a SerialTransport.
type SerialOption interface {
	apply(*serialConfig) error
}

type serialOptFunc func(*serialConfig) error

func (f serialOptFunc) apply(cfg *serialConfig) error { return f(cfg) }

// WithBaudRate sets the serial baud rate. The board's USB CDC interface ignores it, but a
// UART bridge does not. Default: 115200.
func WithBaudRate(rate int) SerialOption {
	return serialOptFunc(func(cfg *serialConfig) error {
		if rate <= 0 {
			return fmt.Errorf("transport: invalid serial baud rate: %d", rate)
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithReadTimeout sets how long a single read blocks before the context is checked again.
func WithReadTimeout(d time.Duration) SerialOption {
	return serialOptFunc(func(cfg *serialConfig) error {
		if d <= 0 {
			return errors.New("transport: read timeout must be positive")
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithMaxLineLength sets the longest inbound line accepted. Longer lines are discarded.
func WithMaxLineLength(n int) SerialOption {
	return serialOptFunc(func(cfg *serialConfig) error {
		if n < 1 {
			return errors.New("transport: max line length must be >= 1")
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithSerialLogger sets the logger of the transport.
func WithSerialLogger(l logger.Logger) SerialOption {
	return serialOptFunc(func(cfg *serialConfig) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// SerialTransport is a Transport over a serial port, 8N1.
type SerialTransport struct {
	portName string
	cfg      serialConfig
	logger   logger.Logger

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex

	readMu  sync.Mutex
	lines   *lineBuffer
	pending []string
	readBuf []byte
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a transport for the named port, e.g. "/dev/ttyACM0" or "COM3".
func NewSerialTransport(portName string, opts ...SerialOption) (*SerialTransport, error) {
	if portName == "" {
		return nil, errors.New("transport: serial port is empty")
	}

	cfg := serialConfig{
		baudRate:      DefaultBaudRate,
		readTimeout:   DefaultReadTimeout,
		maxLineLength: DefaultMaxLineLength,
		logger:        logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	return &SerialTransport{
		portName: portName,
		cfg:      cfg,
		logger:   transportLogger(cfg.logger, "serial", "port", portName),
		lines:    newLineBuffer(cfg.maxLineLength),
		readBuf:  make([]byte, defaultSerialReadChunk),
	}, nil
}

func (t *SerialTransport) Name() string {
	return "serial:" + t.portName
}

// PortName returns the name of the serial port.
func (t *SerialTransport) PortName() string {
	return t.portName
}

// BaudRate returns the configured baud rate.
func (t *SerialTransport) BaudRate() int {
	return t.cfg.baudRate
}

// MaxLineLength returns the longest inbound line accepted.
func (t *SerialTransport) MaxLineLength() int {
	return t.cfg.maxLineLength
}

// Open opens the port. Opening an open transport is a no-op.
func (t *SerialTransport) Open(ctx context.Context) error {
	// lock order: readMu before mu, as in ReadLine
	t.readMu.Lock()
	defer t.readMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := openPort(t.portName, &serial.Mode{
		BaudRate: t.cfg.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(t.cfg.readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	// discard whatever the board printed before we were listening
	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("failed to reset serial input buffer", "error", err)
	}

	t.lines.reset()
	t.pending = nil

	t.port = port
	t.logger.Info("serial port opened", "baud_rate", t.cfg.baudRate)

	return nil
}

// Close drains pending output and closes the port. Closing a closed transport is a no-op.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}

	t.writeMu.Lock()
	drainErr := t.port.Drain()
	t.writeMu.Unlock()

	err := t.port.Close()
	t.port = nil
	t.logger.Info("serial port closed")

	return errors.Join(drainErr, err)
}

// WriteLine writes line followed by a carriage return and waits until it has been transmitted.
func (t *SerialTransport) WriteLine(ctx context.Context, line string) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, []byte(line+"\r")); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := port.Drain(); err != nil {
		return fmt.Errorf("drain serial port: %w", err)
	}

	return nil
}

// ReadLine returns the next inbound line. It polls the port every read timeout so that ctx
// cancellation is honoured.
func (t *SerialTransport) ReadLine(ctx context.Context) (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		if len(t.pending) > 0 {
			line := t.pending[0]
			t.pending = t.pending[1:]
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		port, err := t.currentPort()
		if err != nil {
			return "", err
		}

		n, err := port.Read(t.readBuf)
		if err != nil {
			return "", fmt.Errorf("read serial port: %w", err)
		}
		if n == 0 {
			// read timeout
			continue
		}

		lines, dropped := t.lines.push(t.readBuf[:n])
		if dropped > 0 {
			t.logger.Warn("discarded over-long inbound line", "count", dropped, "max_length", t.cfg.maxLineLength)
		}
		t.pending = append(t.pending, lines...)
	}
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotOpen
	}
	return t.port, nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
