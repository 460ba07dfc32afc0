package wire

import "bytes"

// Encode returns the wire form of m. Type and length in the header are
// always rewritten from m.Type and len(m.Payload).
func Encode(m Message) []byte {
	return AppendEncode(make([]byte, 0, HeaderSize+len(m.Payload)), m)
}

// AppendEncode appends the wire form of m to dst.
func AppendEncode(dst []byte, m Message) []byte {
	hdr := m.Header
	le.PutUint32(hdr[0:4], uint32(m.Type))
	le.PutUint32(hdr[4:8], uint32(len(m.Payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, m.Payload...)
}

// Decode parses the first message in buf and reports how many bytes it used.
// It never blocks: an incomplete but plausible prefix yields ErrNeedMoreData,
// an impossible one a *MalformedError.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < 8 {
		return Message{}, 0, ErrNeedMoreData
	}
	t := PacketType(le.Uint32(buf[0:4]))
	size := le.Uint32(buf[4:8])
	if err := validate(t, size); err != nil {
		return Message{}, 0, err
	}
	total := HeaderSize + int(size)
	if len(buf) < total {
		return Message{}, 0, ErrNeedMoreData
	}

	m := Message{Type: t}
	copy(m.Header[:], buf[:HeaderSize])
	if size > 0 {
		m.Payload = bytes.Clone(buf[HeaderSize:total])
	}
	return m, total, nil
}

func validate(t PacketType, size uint32) error {
	if size > MaxPayloadSize {
		return malformed(t, "payload length %d exceeds %d", size, MaxPayloadSize)
	}
	switch t {
	case TypeVideoData:
		if size == 0 {
			return malformed(t, "empty video payload")
		}
	case TypePing, TypeVideoDataAck, TypeDisconnect:
		if size != 0 {
			return malformed(t, "header-only packet declares %d payload bytes", size)
		}
	case TypeConnectionStart:
		if size > maxConnectionStartPayload {
			return malformed(t, "payload length %d exceeds %d", size, maxConnectionStartPayload)
		}
	default:
		if size > maxUnknownPayload {
			return malformed(t, "payload length %d exceeds %d", size, maxUnknownPayload)
		}
	}
	return nil
}

// Doubtful reports whether m looks like what corrupt bytes decode to: an
// unknown type or an empty CONNECTION_START. Such a message should only be
// trusted once Confirm holds for it.
func Doubtful(m Message) bool {
	return !m.Type.Known() || (m.Type == TypeConnectionStart && len(m.Payload) == 0)
}

// Confirm reports whether the n-byte message at the start of buf is followed
// by a plausible header with none starting inside it. buf must hold at least
// n+8 bytes.
func Confirm(buf []byte, n int) bool {
	return len(buf) >= n+8 && Resync(buf[:n+8]) == n
}

// Plausible reports whether buf starts with a header that can appear in the
// middle of a stream: a known type other than CONNECTION_START with a valid
// length. A run of zero bytes would otherwise pass as an empty
// CONNECTION_START.
func Plausible(buf []byte) bool {
	if len(buf) < 8 {
		return false
	}
	t := PacketType(le.Uint32(buf[0:4]))
	if !t.Known() || t == TypeConnectionStart {
		return false
	}
	return validate(t, le.Uint32(buf[4:8])) == nil
}

// Resync returns how many leading bytes of buf to throw away after a
// malformed header: the offset of the next plausible header, or the point
// where fewer than 8 bytes remain. The result is at least 1 for a non-empty
// buffer.
func Resync(buf []byte) int {
	i := 1
	for ; len(buf)-i >= 8; i++ {
		if Plausible(buf[i:]) {
			return i
		}
	}
	return min(i, len(buf))
}
