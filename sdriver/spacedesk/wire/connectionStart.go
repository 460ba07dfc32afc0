package wire

import (
	"crypto/md5"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Field offsets inside a CONNECTION_START header. Everything between them is
// sent exactly as the official clients send it.
const (
	offRevision    = 8
	offQuality     = 32
	offCompression = 36
	offFrameRate   = 44
	offClientOS    = 48
	offWidth       = 52
	offHeight      = 88
	offLicenseType = 124

	// ConnectionStartPayloadSize is the payload length the official clients
	// declare, even though only the identification string is used.
	ConnectionStartPayloadSize = 334

	CompressionH264 = 4
	ClientOSWindows = 1
)

// ConnectionStart is the decoded form of a CONNECTION_START packet. The client
// sends it as hello plus resolution request, the server answers with one that
// carries the granted values.
type ConnectionStart struct {
	Revision       uint32
	Quality        uint32
	Compression    uint16
	FrameRate      uint16
	ClientOS       uint32
	Width          uint32
	Height         uint32
	LicenseType    uint32
	Identification string
}

// DefaultConnectionStart fills the constant fields the way the official
// clients do.
func DefaultConnectionStart(width, height, quality uint32, hostname string) ConnectionStart {
	return ConnectionStart{
		Revision:       4,
		Quality:        quality,
		Compression:    CompressionH264,
		FrameRate:      60,
		ClientOS:       ClientOSWindows,
		Width:          width,
		Height:         height,
		Identification: IdentificationString(hostname),
	}
}

// NewConnectionStart encodes cs into a CONNECTION_START message.
func NewConnectionStart(cs ConnectionStart) Message {
	payload := make([]byte, ConnectionStartPayloadSize)
	units := utf16.Encode([]rune(cs.Identification))
	for i, u := range units {
		if 2*i+2 > len(payload) {
			break
		}
		le.PutUint16(payload[2*i:], u)
	}

	m := newMessage(TypeConnectionStart, payload)
	m.PutUint32(offRevision, cs.Revision)
	m.PutUint32(12, 8)
	m.PutUint32(16, 0)
	m.PutUint32(20, 1)
	m.PutUint32(24, 3)
	m.PutUint32(28, 2)
	m.PutUint32(offQuality, cs.Quality)
	m.PutUint16(offCompression, cs.Compression)
	m.PutUint16(38, 1)
	m.PutUint32(40, 0)
	m.PutUint16(offFrameRate, cs.FrameRate)
	m.PutUint16(46, 4)
	m.PutUint32(offClientOS, cs.ClientOS)
	m.PutUint32(offWidth, cs.Width)
	m.PutUint32(offHeight, cs.Height)
	m.PutUint32(offLicenseType, cs.LicenseType)
	return m
}

// ParseConnectionStart reads the known fields of a CONNECTION_START.
func ParseConnectionStart(m Message) (ConnectionStart, error) {
	if m.Type != TypeConnectionStart {
		return ConnectionStart{}, malformed(m.Type, "not a CONNECTION_START")
	}
	cs := ConnectionStart{
		Revision:    m.Uint32(offRevision),
		Quality:     m.Uint32(offQuality),
		Compression: m.Uint16(offCompression),
		FrameRate:   m.Uint16(offFrameRate),
		ClientOS:    m.Uint32(offClientOS),
		Width:       m.Uint32(offWidth),
		Height:      m.Uint32(offHeight),
		LicenseType: m.Uint32(offLicenseType),
	}
	var units []uint16
	for i := 0; i+1 < len(m.Payload); i += 2 {
		u := le.Uint16(m.Payload[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	cs.Identification = string(utf16.Decode(units))
	return cs, nil
}

// IdentificationString derives "{<md5 of hostname as uuid hex>} <hostname>".
// The server uses it to keep the virtual screen at the same place in its
// display arrangement across runs.
func IdentificationString(hostname string) string {
	sum := md5.Sum([]byte(hostname))
	id, _ := uuid.FromBytes(sum[:])
	return "{" + strings.ReplaceAll(id.String(), "-", "") + "} " + hostname
}
