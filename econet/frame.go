package econet

import "fmt"

const (
	scoutHeaderLen = 6
	dataHeaderLen  = 4
)

// ScoutFrame is the decoded header of a scout frame.
type ScoutFrame struct {
	ToStation   uint8
	ToNetwork   uint8
	FromStation uint8
	FromNetwork uint8
	ControlByte uint8
	Port        uint8
	// Extra holds bytes following the header, used by a few immediate operations such as NOTIFY.
	Extra []byte
}

// DataFrame is a decoded data frame.
type DataFrame struct {
	ToStation   uint8
	ToNetwork   uint8
	FromStation uint8
	FromNetwork uint8
	Payload     []byte
}

// ParseScoutFrame decodes the header of a raw scout frame.
func ParseScoutFrame(b []byte) (ScoutFrame, error) {
	if len(b) < scoutHeaderLen {
		return ScoutFrame{}, fmt.Errorf("%w: scout frame has %d bytes, need %d", ErrFrameTooShort, len(b), scoutHeaderLen)
	}
	return ScoutFrame{
		ToStation:   b[0],
		ToNetwork:   b[1],
		FromStation: b[2],
		FromNetwork: b[3],
		ControlByte: b[4],
		Port:        b[5],
		Extra:       append([]byte(nil), b[scoutHeaderLen:]...),
	}, nil
}

// ParseDataFrame decodes a raw data frame. It also accepts a monitored or broadcast frame,
// which share the same address header.
func ParseDataFrame(b []byte) (DataFrame, error) {
	if len(b) < dataHeaderLen {
		return DataFrame{}, fmt.Errorf("%w: data frame has %d bytes, need %d", ErrFrameTooShort, len(b), dataHeaderLen)
	}
	return DataFrame{
		ToStation:   b[0],
		ToNetwork:   b[1],
		FromStation: b[2],
		FromNetwork: b[3],
		Payload:     append([]byte(nil), b[dataHeaderLen:]...),
	}, nil
}
