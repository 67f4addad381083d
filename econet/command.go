package econet

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Outbound command keywords.
const (
	CmdStatus     = "STATUS"
	CmdRestart    = "RESTART"
	CmdSetMode    = "SET_MODE"
	CmdSetStation = "SET_STATION"
	CmdTx         = "TX"
	CmdReply      = "REPLY"
	CmdBroadcast  = "BCAST"
)

// Size limits derived from the firmware buffers: 3500 data bytes less 4 header bytes
// (source and destination station/network), and 32 scout bytes less 6 header bytes
// (addresses, control byte and port).
const (
	MaxTxDataLength         = 3500 - 4
	MaxScoutExtraDataLength = 32 - 6
)

// Command is an outbound line, without its trailing carriage return.
type Command string

func (c Command) String() string { return string(c) }

// Keyword returns the first term of the command.
func (c Command) Keyword() string {
	keyword, _, _ := strings.Cut(string(c), " ")
	return keyword
}

func StatusCommand() Command { return CmdStatus }

func RestartCommand() Command { return CmdRestart }

func SetModeCommand(mode RxMode) Command {
	return Command(CmdSetMode + " " + mode.Command())
}

func SetStationCommand(station int) Command {
	return Command(CmdSetStation + " " + strconv.Itoa(station))
}

// TxCommand renders a TX command. extraScoutData is omitted when nil.
func TxCommand(station, network, controlByte, port int, data, extraScoutData []byte) Command {
	var b strings.Builder
	b.WriteString(CmdTx)
	for _, n := range []int{station, network, controlByte, port} {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(n))
	}
	b.WriteByte(' ')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	if extraScoutData != nil {
		b.WriteByte(' ')
		b.WriteString(base64.StdEncoding.EncodeToString(extraScoutData))
	}
	return Command(b.String())
}

func ReplyCommand(receiveID int, data []byte) Command {
	return Command(CmdReply + " " + strconv.Itoa(receiveID) + " " + base64.StdEncoding.EncodeToString(data))
}

func BroadcastCommand(data []byte) Command {
	return Command(CmdBroadcast + " " + base64.StdEncoding.EncodeToString(data))
}
