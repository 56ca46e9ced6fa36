package rfm

import (
	"errors"
	"strconv"
)

// Domain errors for the RFM gateway package.
var (
	// ErrMalformedTopic is returned when a southbound topic does not match
	// home/rfm_gw/sb/node{NN}/dev{NN} exactly.
	ErrMalformedTopic = errors.New("rfm: malformed topic")

	// ErrPacketSize is returned when a radio packet is not exactly PacketSize bytes.
	ErrPacketSize = errors.New("rfm: packet size mismatch")

	// ErrPayloadTooLong is returned when text does not fit the 32 byte payload.
	ErrPayloadTooLong = errors.New("rfm: payload too long")

	// ErrRestartRequested is returned by Gateway.Run after a restart command
	// was received on self-device 10.
	ErrRestartRequested = errors.New("rfm: restart requested")

	// ErrNotConnected is returned when the radio daemon connection is down.
	ErrNotConnected = errors.New("rfm: not connected to radio daemon")

	// ErrConnectionFailed is returned when the radio daemon cannot be reached
	// or rejects the open request.
	ErrConnectionFailed = errors.New("rfm: connection to radio daemon failed")

	// ErrProtocolDesync is returned when a daemon frame cannot be framed safely.
	ErrProtocolDesync = errors.New("rfm: radio daemon protocol desync")
)

// ErrorCode is the numeric code carried by a syntax error diagnostic on
// device 91.
type ErrorCode int

// Syntax error codes. CodeOK means no diagnostic is published.
const (
	CodeOK             ErrorCode = 0
	CodeMalformedTopic ErrorCode = 1
	CodeEmptyPayload   ErrorCode = 2
	CodeInvalidValue   ErrorCode = 3
	CodeUnknownDevice  ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeMalformedTopic:
		return "malformed topic"
	case CodeEmptyPayload:
		return "empty payload"
	case CodeInvalidValue:
		return "invalid payload value"
	case CodeUnknownDevice:
		return "unknown device"
	default:
		return "code " + strconv.Itoa(int(c))
	}
}
