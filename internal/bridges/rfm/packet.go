package rfm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Radio record layout. All fields are little-endian.
//
//	offset  size  field
//	     0     2  nodeID   int16
//	     2     2  deviceID int16
//	     4     2  cmd      int16 (0 write, 1 read)
//	     6     4  intVal   int32
//	    10     4  fltVal   float32
//	    14    32  payload
const (
	PacketSize  = 46
	PayloadSize = 32

	// MaxTextLen leaves room for the NUL terminator.
	MaxTextLen = PayloadSize - 1

	offNode    = 0
	offDevice  = 2
	offCmd     = 4
	offInt     = 6
	offFloat   = 10
	offPayload = 14
)

// Payload is the fixed 32 byte buffer of a radio record. When it holds
// text, the text is NUL-terminated inside the buffer.
type Payload [PayloadSize]byte

// SetText stores s followed by a NUL and zeroes the rest of the buffer.
//
// Returns:
//   - error: ErrPayloadTooLong if s is longer than MaxTextLen bytes
func (p *Payload) SetText(s string) error {
	if len(s) > MaxTextLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLong, len(s), MaxTextLen)
	}
	*p = Payload{}
	copy(p[:], s)
	return nil
}

// Text returns the bytes up to the first NUL, or all 32 bytes if a node
// filled the buffer without terminating it.
func (p Payload) Text() string {
	if i := bytes.IndexByte(p[:], 0); i >= 0 {
		return string(p[:i])
	}
	return string(p[:])
}

// Message is one radio record.
type Message struct {
	NodeID   int16
	DeviceID int16
	Cmd      Command
	IntVal   int32
	FltVal   float32
	Payload  Payload
}

// Encode serialises the record into exactly PacketSize bytes.
func (m Message) Encode() []byte {
	// Signed fields travel as two's complement.
	buf := make([]byte, PacketSize)
	binary.LittleEndian.PutUint16(buf[offNode:], uint16(m.NodeID))
	binary.LittleEndian.PutUint16(buf[offDevice:], uint16(m.DeviceID))
	binary.LittleEndian.PutUint16(buf[offCmd:], uint16(m.Cmd))
	binary.LittleEndian.PutUint32(buf[offInt:], uint32(m.IntVal))
	binary.LittleEndian.PutUint32(buf[offFloat:], math.Float32bits(m.FltVal))
	copy(buf[offPayload:], m.Payload[:])
	return buf
}

// DecodePacket parses a radio record.
//
// Returns:
//   - Message: Decoded record
//   - error: ErrPacketSize if data is not exactly PacketSize bytes
func DecodePacket(data []byte) (Message, error) {
	if len(data) != PacketSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketSize, len(data), PacketSize)
	}

	var m Message
	m.NodeID = int16(binary.LittleEndian.Uint16(data[offNode:]))
	m.DeviceID = int16(binary.LittleEndian.Uint16(data[offDevice:]))
	m.Cmd = Command(int16(binary.LittleEndian.Uint16(data[offCmd:])))
	m.IntVal = int32(binary.LittleEndian.Uint32(data[offInt:]))
	m.FltVal = math.Float32frombits(binary.LittleEndian.Uint32(data[offFloat:]))
	copy(m.Payload[:], data[offPayload:offPayload+PayloadSize])
	return m, nil
}
