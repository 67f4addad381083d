// Package transport provides the line oriented link between the host and a Piconet board.
//
// The driver only depends on the Transport interface. SerialTransport implements it on top of
// a USB serial port, and Pipe provides an in-memory pair of endpoints for tests and simulations.
package transport

import (
	"context"
	"errors"

	"github.com/piconet-go/piconet/logger"
)

var (
	// ErrNotOpen is returned by transport operations invoked before Open or after Close.
	ErrNotOpen = errors.New("transport: not open")

	// ErrDeviceNotFound is returned by AutoDetect when no Piconet board is attached.
	ErrDeviceNotFound = errors.New("transport: no piconet device found")
)

// Transport is a bidirectional, line oriented channel to the board.
//
// Outbound lines are terminated with a carriage return; inbound lines are terminated with
// CR-LF. Implementations must allow ReadLine and WriteLine to be called concurrently.
type Transport interface {
	// Name identifies the transport in logs, e.g. "serial:/dev/ttyACM0".
	Name() string
	// Open establishes the link.
	Open(ctx context.Context) error
	// WriteLine appends "\r" to line and blocks until it has been flushed to the device.
	WriteLine(ctx context.Context, line string) error
	// ReadLine blocks until the next inbound line is available and returns it with the
	// line terminator stripped.
	ReadLine(ctx context.Context) (string, error)
	// Close flushes pending output and closes the link.
	Close() error
}

// transportLogger derives the logger used by a transport.
func transportLogger(l logger.Logger, name string, keyValues ...any) logger.Logger {
	if l == nil {
		l = logger.GetLogger()
	}
	return l.With(append([]any{"component", "transport", "transport", name}, keyValues...)...)
}
