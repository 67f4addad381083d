package driver

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidState is returned when an operation is invoked in a connection state that does not allow it.
	ErrInvalidState = errors.New("driver: invalid state")

	// ErrValidation is returned when an argument is out of range. Nothing is written to the board.
	ErrValidation = errors.New("driver: validation failed")

	// ErrVersion is returned by Connect when the firmware is incompatible with the driver.
	ErrVersion = errors.New("driver: incompatible firmware version")

	// ErrTimeout is returned when an awaited event does not arrive in time.
	ErrTimeout = errors.New("driver: timed out")

	// ErrQueueDestroyed is returned when waiting on an event queue that has been destroyed.
	ErrQueueDestroyed = errors.New("driver: event queue destroyed")

	// ErrClosed is returned when the connection goes away while an operation is in flight.
	ErrClosed = errors.New("driver: connection closed")
)

// StateError reports an operation attempted in the wrong connection state.
// It matches ErrInvalidState with errors.Is.
type StateError struct {
	Op    string
	State ConnState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("driver: cannot %s whilst in %s state", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// ValidationError reports an invalid argument. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("driver: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// VersionError reports a firmware whose major and minor version differ from the driver's.
// It matches ErrVersion with errors.Is.
type VersionError struct {
	Driver   string
	Firmware string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("driver: driver version %s is not compatible with board version %s", e.Driver, e.Firmware)
}

func (e *VersionError) Is(target error) bool { return target == ErrVersion }

// TimeoutError reports an expired wait. It matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("driver: %s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func validationErr(field string, value any, format string, args ...any) error {
	return &ValidationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}
