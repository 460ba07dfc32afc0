package comm

import (
	"bytes"
	"iter"
)

var startCode = []byte{0x00, 0x00, 0x01}

// NALUnits walks an Annex-B buffer and yields each NAL unit without its start
// code. Slices alias au. Both 3 and 4 byte start codes are accepted.
func NALUnits(au []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		first := bytes.Index(au, startCode)
		if first < 0 {
			return
		}
		pos := first + len(startCode)
		for pos <= len(au) {
			next := bytes.Index(au[pos:], startCode)
			end := len(au)
			if next >= 0 {
				end = pos + next
			}
			// the leading zero of a 4 byte start code sticks to the previous unit
			nal := bytes.TrimRight(au[pos:end], "\x00")
			if len(nal) > 0 && !yield(nal) {
				return
			}
			if next < 0 {
				return
			}
			pos = end + len(startCode)
		}
	}
}

func NALType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// IsKeyFrame reports whether the access unit carries an IDR slice.
func IsKeyFrame(au []byte) bool {
	for nal := range NALUnits(au) {
		if NALType(nal) == NALTypeIDR {
			return true
		}
	}
	return false
}

// HasVCL reports whether the access unit carries any coded slice.
func HasVCL(au []byte) bool {
	for nal := range NALUnits(au) {
		if t := NALType(nal); t >= NALTypeSlice && t <= NALTypeIDR {
			return true
		}
	}
	return false
}

// FindSPS returns the first SPS NAL unit in au, or nil.
func FindSPS(au []byte) []byte {
	for nal := range NALUnits(au) {
		if NALType(nal) == NALTypeSPS {
			return nal
		}
	}
	return nil
}

// AppendAnnexB appends nal to dst behind a 4 byte start code.
func AppendAnnexB(dst, nal []byte) []byte {
	dst = append(dst, 0x00, 0x00, 0x00, 0x01)
	return append(dst, nal...)
}
