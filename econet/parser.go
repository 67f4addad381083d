package econet

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/piconet-go/piconet/semver"
)

// Wire tags of inbound events.
const (
	TagStatus      = "STATUS"
	TagError       = "ERROR"
	TagMonitor     = "MONITOR"
	TagRxTransmit  = "RX_TRANSMIT"
	TagRxImmediate = "RX_IMMEDIATE"
	TagRxBroadcast = "RX_BROADCAST"
	TagTxResult    = "TX_RESULT"
	TagReplyResult = "REPLY_RESULT"
)

// Parser decodes a single line.
//
// It returns (nil, nil) when the line does not carry the parser's tag, a *ProtocolError when the
// tag matches but the attributes are malformed, and the decoded event otherwise.
type Parser func(line string) (Event, error)

// Parsers holds one parser per inbound tag, in the order they are tried by Decode.
var Parsers = []Parser{
	ParseStatus,
	ParseError,
	ParseMonitor,
	ParseRxTransmit,
	ParseRxImmediate,
	ParseRxBroadcast,
	ParseTxResult,
	ParseReplyResult,
}

// Decode runs every parser in Parsers against line and collects the decoded events and
// protocol errors. An error from one parser does not stop the remaining parsers.
//
// Tags are disjoint by protocol convention, so at most one event is expected, but exclusivity
// is not enforced.
func Decode(line string) ([]Event, []error) {
	var (
		events []Event
		errs   []error
	)
	for _, parse := range Parsers {
		evt, err := parse(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if evt != nil {
			events = append(events, evt)
		}
	}

	return events, errs
}

// attributes splits line into whitespace separated terms and returns the terms after the tag.
// ok is false when the first term is not tag.
func attributes(line, tag string) (attrs []string, ok bool) {
	terms := strings.Fields(line)
	if len(terms) == 0 || terms[0] != tag {
		return nil, false
	}
	return terms[1:], true
}

// ParseStatus decodes "STATUS <semver> <station> <sr1 hex> <mode>".
func ParseStatus(line string) (Event, error) {
	attrs, ok := attributes(line, TagStatus)
	if !ok {
		return nil, nil
	}
	if len(attrs) == 0 {
		return nil, protocolErr(TagStatus, line, "missing attributes")
	}
	if _, err := semver.Parse(attrs[0]); err != nil {
		return nil, protocolErr(TagStatus, line, "board reports invalid version %q", attrs[0])
	}
	if len(attrs) != 4 {
		return nil, protocolErr(TagStatus, line, "expected 4 attributes, got %d", len(attrs))
	}

	station, err := strconv.ParseUint(attrs[1], 10, 8)
	if err != nil {
		return nil, protocolErr(TagStatus, line, "invalid econet station %q", attrs[1])
	}
	sr1, err := strconv.ParseUint(attrs[2], 16, 8)
	if err != nil || len(attrs[2]) != 2 {
		return nil, protocolErr(TagStatus, line, "invalid status register 1 value %q", attrs[2])
	}

	var mode RxMode
	switch attrs[3] {
	case "0":
		mode = Stopped
	case "1":
		mode = Listening
	case "2":
		mode = Monitoring
	default:
		return nil, protocolErr(TagStatus, line, "invalid board state value %q", attrs[3])
	}

	return StatusEvent{
		FirmwareVersion: attrs[0],
		EconetStation:   uint8(station),
		StatusRegister1: uint8(sr1),
		RxMode:          mode,
	}, nil
}

// ParseError decodes "ERROR <free text>". The description is the remainder of the line.
func ParseError(line string) (Event, error) {
	rest, ok := freeText(line, TagError)
	if !ok {
		return nil, nil
	}
	if rest == "" {
		return nil, protocolErr(TagError, line, "missing description")
	}
	return ErrorEvent{Description: rest}, nil
}

// ParseMonitor decodes "MONITOR <base64 frame>".
func ParseMonitor(line string) (Event, error) {
	frames, err := frameAttributes(line, TagMonitor, 1)
	if frames == nil || err != nil {
		return nil, err
	}
	return MonitorEvent{EconetFrame: frames[0]}, nil
}

// ParseRxBroadcast decodes "RX_BROADCAST <base64 frame>".
func ParseRxBroadcast(line string) (Event, error) {
	frames, err := frameAttributes(line, TagRxBroadcast, 1)
	if frames == nil || err != nil {
		return nil, err
	}
	return RxBroadcastEvent{EconetFrame: frames[0]}, nil
}

// ParseRxImmediate decodes "RX_IMMEDIATE <base64 scout> <base64 data>".
func ParseRxImmediate(line string) (Event, error) {
	frames, err := frameAttributes(line, TagRxImmediate, 2)
	if frames == nil || err != nil {
		return nil, err
	}
	return RxImmediateEvent{ScoutFrame: frames[0], DataFrame: frames[1]}, nil
}

// ParseRxTransmit decodes "RX_TRANSMIT <receiveId> <base64 scout> <base64 data>".
func ParseRxTransmit(line string) (Event, error) {
	attrs, ok := attributes(line, TagRxTransmit)
	if !ok {
		return nil, nil
	}
	if len(attrs) != 3 {
		return nil, protocolErr(TagRxTransmit, line, "expected 3 attributes, got %d", len(attrs))
	}

	id, err := strconv.Atoi(attrs[0])
	if err != nil || id < 0 {
		return nil, protocolErr(TagRxTransmit, line, "invalid receive id %q", attrs[0])
	}
	scout, err := base64.StdEncoding.DecodeString(attrs[1])
	if err != nil {
		return nil, protocolErr(TagRxTransmit, line, "failed to parse base64 scout frame")
	}
	data, err := base64.StdEncoding.DecodeString(attrs[2])
	if err != nil {
		return nil, protocolErr(TagRxTransmit, line, "failed to parse base64 data frame")
	}

	return RxTransmitEvent{ReceiveID: id, ScoutFrame: scout, DataFrame: data}, nil
}

// ParseTxResult decodes "TX_RESULT <code>".
func ParseTxResult(line string) (Event, error) {
	attrs, ok := attributes(line, TagTxResult)
	if !ok {
		return nil, nil
	}
	if len(attrs) == 0 {
		return nil, protocolErr(TagTxResult, line, "missing result")
	}
	return TxResultEvent{Result: attrs[0]}, nil
}

// ParseReplyResult decodes "REPLY_RESULT <code>".
func ParseReplyResult(line string) (Event, error) {
	attrs, ok := attributes(line, TagReplyResult)
	if !ok {
		return nil, nil
	}
	if len(attrs) == 0 {
		return nil, protocolErr(TagReplyResult, line, "missing result")
	}
	return ReplyResultEvent{Result: attrs[0]}, nil
}

// frameAttributes decodes exactly n base64 attributes following tag.
// It returns (nil, nil) when the line carries another tag.
func frameAttributes(line, tag string, n int) ([][]byte, error) {
	attrs, ok := attributes(line, tag)
	if !ok {
		return nil, nil
	}
	if len(attrs) != n {
		return nil, protocolErr(tag, line, "expected %d attributes, got %d", n, len(attrs))
	}

	frames := make([][]byte, n)
	for i, attr := range attrs {
		frame, err := base64.StdEncoding.DecodeString(attr)
		if err != nil {
			return nil, protocolErr(tag, line, "failed to parse base64 data")
		}
		frames[i] = frame
	}

	return frames, nil
}

// freeText returns the remainder of line after tag with surrounding whitespace trimmed.
func freeText(line, tag string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, tag) {
		return "", false
	}
	rest := trimmed[len(tag):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
