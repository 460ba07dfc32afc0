package comm

import (
	"errors"
	"io"
)

var errExpGolombTooLong = errors.New("comm: exp-golomb code longer than 31 bits")

// BitReader reads MSB first from a byte slice.
type BitReader struct {
	data []byte
	pos  int // in bits
}

func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

func (r *BitReader) ReadBit() (uint8, error) {
	if r.pos >= len(r.data)*8 {
		return 0, io.ErrUnexpectedEOF
	}
	bit := (r.data[r.pos/8] >> (7 - uint(r.pos%8))) & 1
	r.pos++
	return bit, nil
}

func (r *BitReader) ReadBits(n uint) (uint32, error) {
	var v uint32
	for i := uint(0); i < n; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint32(bit)
	}
	return v, nil
}

func (r *BitReader) SkipBits(n int) error {
	if r.pos+n > len(r.data)*8 {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// ReadExpGolomb reads an unsigned ue(v) value.
func (r *BitReader) ReadExpGolomb() (uint32, error) {
	zeros := uint(0)
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errExpGolombTooLong
		}
	}
	rest, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1<<zeros - 1) + rest, nil
}

// ReadSignedExpGolomb reads an se(v) value.
func (r *BitReader) ReadSignedExpGolomb() (int32, error) {
	v, err := r.ReadExpGolomb()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int32(v / 2), nil
	}
	return int32((v + 1) / 2), nil
}
