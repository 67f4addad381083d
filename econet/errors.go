package econet

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol indicates that a line carrying a known tag has malformed attributes.
	ErrProtocol = errors.New("econet: protocol error")

	// ErrFrameTooShort indicates that a frame is shorter than its header.
	ErrFrameTooShort = errors.New("econet: frame too short")
)

// ProtocolError describes a malformed inbound line. It matches ErrProtocol with errors.Is.
type ProtocolError struct {
	Tag    string
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("econet: protocol error: invalid %s event %q: %s", e.Tag, e.Line, e.Reason)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func protocolErr(tag, line, format string, args ...any) error {
	return &ProtocolError{Tag: tag, Line: line, Reason: fmt.Sprintf(format, args...)}
}
