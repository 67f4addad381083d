// Package econet defines the events reported by a Piconet board and the codec that translates
// the board's line-oriented ASCII protocol to and from those events.
//
// # Inbound events
//
// Every line received from the board starts with a tag naming the event:
//
//	STATUS <semver> <station:0-255> <statusRegister1:hex2> <mode:0|1|2>
//	ERROR <free text>
//	MONITOR <base64 frame>
//	RX_BROADCAST <base64 frame>
//	RX_IMMEDIATE <base64 scout> <base64 data>
//	RX_TRANSMIT <receiveId> <base64 scout> <base64 data>
//	TX_RESULT <code>
//	REPLY_RESULT <code>
//
// Parsers contains one Parser per tag. A parser ignores lines carrying another tag and reports a
// ProtocolError when its own tag is followed by malformed attributes. Decode runs every parser
// against a line.
//
// # Outbound commands
//
// Command values render the lines sent to the board (without the trailing carriage return), for
// example TxCommand renders "TX <station> <network> <controlByte> <port> <base64 data> [<base64 extra>]".
package econet
