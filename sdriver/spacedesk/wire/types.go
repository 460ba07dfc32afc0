package wire

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the u32 tag at offset 0 of every header.
type PacketType uint32

const (
	TypeConnectionStart PacketType = 0
	TypePing            PacketType = 1
	TypeVideoData       PacketType = 2
	TypeVideoDataAck    PacketType = 7
	TypeDisconnect      PacketType = 8
)

const (
	// HeaderSize is the fixed size of every packet header.
	HeaderSize = 128
	// DefaultPort is the TCP port spacedesk servers listen on.
	DefaultPort = 28252
	// MaxPayloadSize caps the declared payload length. Anything larger is
	// treated as a corrupt stream rather than allocated.
	MaxPayloadSize = 16 << 20

	maxConnectionStartPayload = 4 << 10
	maxUnknownPayload         = 64 << 10
)

var le = binary.LittleEndian

func (t PacketType) String() string {
	switch t {
	case TypeConnectionStart:
		return "CONNECTION_START"
	case TypePing:
		return "PING"
	case TypeVideoData:
		return "VIDEO_DATA"
	case TypeVideoDataAck:
		return "VIDEO_DATA_ACK"
	case TypeDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Known reports whether t is one of the packet types this client understands.
// Unknown types are still framed and skipped.
func (t PacketType) Known() bool {
	switch t {
	case TypeConnectionStart, TypePing, TypeVideoData, TypeVideoDataAck, TypeDisconnect:
		return true
	}
	return false
}

// Message is one framed packet. Header holds the raw fixed area including the
// type and length words, so fields nobody understands survive a round trip.
type Message struct {
	Type    PacketType
	Header  [HeaderSize]byte
	Payload []byte
}

// newMessage returns a message whose header already carries type and length.
func newMessage(t PacketType, payload []byte) Message {
	m := Message{Type: t, Payload: payload}
	le.PutUint32(m.Header[0:4], uint32(t))
	le.PutUint32(m.Header[4:8], uint32(len(payload)))
	return m
}

func (m *Message) Uint32(off int) uint32 { return le.Uint32(m.Header[off : off+4]) }
func (m *Message) Uint16(off int) uint16 { return le.Uint16(m.Header[off : off+2]) }

func (m *Message) PutUint32(off int, v uint32) { le.PutUint32(m.Header[off:off+4], v) }
func (m *Message) PutUint16(off int, v uint16) { le.PutUint16(m.Header[off:off+2], v) }

// NewPing builds a header-only keepalive.
func NewPing() Message { return newMessage(TypePing, nil) }

// NewVideoDataAck builds the acknowledgement sent after every VIDEO_DATA.
func NewVideoDataAck() Message { return newMessage(TypeVideoDataAck, nil) }

// NewDisconnect builds the packet announcing the end of a session.
func NewDisconnect() Message { return newMessage(TypeDisconnect, nil) }

// NewVideoData wraps one H.264 access unit (or one chunk of it).
func NewVideoData(payload []byte) Message { return newMessage(TypeVideoData, payload) }
