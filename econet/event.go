package econet

import (
	"encoding/hex"
	"fmt"
)

// EventKind discriminates the members of the Event sum type.
type EventKind uint8

const (
	KindStatus EventKind = iota + 1
	KindError
	KindMonitor
	KindRxBroadcast
	KindRxImmediate
	KindRxTransmit
	KindTxResult
	KindReplyResult
)

// String returns the wire tag of the kind.
func (k EventKind) String() string {
	switch k {
	case KindStatus:
		return TagStatus
	case KindError:
		return TagError
	case KindMonitor:
		return TagMonitor
	case KindRxBroadcast:
		return TagRxBroadcast
	case KindRxImmediate:
		return TagRxImmediate
	case KindRxTransmit:
		return TagRxTransmit
	case KindTxResult:
		return TagTxResult
	case KindReplyResult:
		return TagReplyResult
	default:
		return "UNKNOWN"
	}
}

// Event is an event reported by the board.
//
// The set of implementations is closed: StatusEvent, ErrorEvent, MonitorEvent, RxBroadcastEvent,
// RxImmediateEvent, RxTransmitEvent, TxResultEvent and ReplyResultEvent.
type Event interface {
	Kind() EventKind
	String() string
	isEvent()
}

// RxMode is the receive mode of the board.
type RxMode uint8

const (
	// Stopped generates no events for network traffic. The board starts in this mode.
	Stopped RxMode = iota
	// Listening generates events for broadcasts and frames addressed to the local station.
	Listening
	// Monitoring generates an event for every frame on the wire (promiscuous mode).
	Monitoring
)

func (m RxMode) String() string {
	switch m {
	case Stopped:
		return "Stopped"
	case Listening:
		return "Listening"
	case Monitoring:
		return "Monitoring"
	default:
		return fmt.Sprintf("RxMode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m RxMode) Valid() bool {
	return m <= Monitoring
}

// Command returns the SET_MODE keyword for m.
func (m RxMode) Command() string {
	switch m {
	case Stopped:
		return "STOP"
	case Listening:
		return "LISTEN"
	case Monitoring:
		return "MONITOR"
	default:
		return ""
	}
}

// Result codes reported by TX_RESULT and REPLY_RESULT.
const (
	ResultOK               = "OK"
	ResultUninitialised    = "UNINITIALISED"
	ResultOverflow         = "OVERFLOW"
	ResultUnderrun         = "UNDERRUN"
	ResultLineJammed       = "LINE_JAMMED"
	ResultNoScoutAck       = "NO_SCOUT_ACK"
	ResultNoDataAck        = "NO_DATA_ACK"
	ResultTimeout          = "TIMEOUT"
	ResultInvalidReceiveID = "INVALID_RECEIVE_ID"
	ResultMisc             = "MISC"
	ResultUnexpected       = "UNEXPECTED"
)

// StatusEvent is a snapshot of the board configuration.
type StatusEvent struct {
	FirmwareVersion string
	EconetStation   uint8
	StatusRegister1 uint8
	RxMode          RxMode
}

func (StatusEvent) Kind() EventKind { return KindStatus }
func (StatusEvent) isEvent()        {}

func (e StatusEvent) String() string {
	return fmt.Sprintf("[StatusEvent firmware=%s station=%d sr1=%02x mode=%s]",
		e.FirmwareVersion, e.EconetStation, e.StatusRegister1, e.RxMode)
}

// ErrorEvent is a fault reported by the firmware. It may arrive at any time.
type ErrorEvent struct {
	Description string
}

func (ErrorEvent) Kind() EventKind { return KindError }
func (ErrorEvent) isEvent()        {}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("[ErrorEvent description=%q]", e.Description)
}

// MonitorEvent carries a frame captured in monitoring mode.
type MonitorEvent struct {
	EconetFrame []byte
}

func (MonitorEvent) Kind() EventKind { return KindMonitor }
func (MonitorEvent) isEvent()        {}

func (e MonitorEvent) String() string {
	return fmt.Sprintf("[MonitorEvent frame=%s]", hex.EncodeToString(e.EconetFrame))
}

// RxBroadcastEvent carries a broadcast frame received in listening mode.
type RxBroadcastEvent struct {
	EconetFrame []byte
}

func (RxBroadcastEvent) Kind() EventKind { return KindRxBroadcast }
func (RxBroadcastEvent) isEvent()        {}

func (e RxBroadcastEvent) String() string {
	return fmt.Sprintf("[RxBroadcastEvent frame=%s]", hex.EncodeToString(e.EconetFrame))
}

// RxImmediateEvent carries an immediate operation addressed to the local station.
type RxImmediateEvent struct {
	ScoutFrame []byte
	DataFrame  []byte
}

func (RxImmediateEvent) Kind() EventKind { return KindRxImmediate }
func (RxImmediateEvent) isEvent()        {}

func (e RxImmediateEvent) String() string {
	return fmt.Sprintf("[RxImmediateEvent scout=%s data=%s]",
		hex.EncodeToString(e.ScoutFrame), hex.EncodeToString(e.DataFrame))
}

// RxTransmitEvent carries a transmit operation addressed to the local station.
// ReceiveID identifies it for a later reply.
type RxTransmitEvent struct {
	ReceiveID  int
	ScoutFrame []byte
	DataFrame  []byte
}

func (RxTransmitEvent) Kind() EventKind { return KindRxTransmit }
func (RxTransmitEvent) isEvent()        {}

func (e RxTransmitEvent) String() string {
	return fmt.Sprintf("[RxTransmitEvent receiveId=%d scout=%s data=%s]",
		e.ReceiveID, hex.EncodeToString(e.ScoutFrame), hex.EncodeToString(e.DataFrame))
}

// TxResultEvent is the outcome of the most recent TX or BCAST command.
type TxResultEvent struct {
	Result string
}

func (TxResultEvent) Kind() EventKind { return KindTxResult }
func (TxResultEvent) isEvent()        {}

// Success reports whether the frame was sent and acknowledged.
func (e TxResultEvent) Success() bool { return e.Result == ResultOK }

func (e TxResultEvent) String() string {
	return fmt.Sprintf("[TxResultEvent success=%t result=%s]", e.Success(), e.Result)
}

// ReplyResultEvent is the outcome of the most recent REPLY command.
type ReplyResultEvent struct {
	Result string
}

func (ReplyResultEvent) Kind() EventKind { return KindReplyResult }
func (ReplyResultEvent) isEvent()        {}

// Success reports whether the reply was sent and acknowledged.
func (e ReplyResultEvent) Success() bool { return e.Result == ResultOK }

func (e ReplyResultEvent) String() string {
	return fmt.Sprintf("[ReplyResultEvent success=%t result=%s]", e.Success(), e.Result)
}
