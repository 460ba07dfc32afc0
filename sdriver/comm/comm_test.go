package comm

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bitWriter struct {
	out  []byte
	cur  byte
	used uint
}

func (w *bitWriter) bit(b uint32) {
	w.cur = w.cur<<1 | byte(b&1)
	w.used++
	if w.used == 8 {
		w.out = append(w.out, w.cur)
		w.cur, w.used = 0, 0
	}
}

func (w *bitWriter) bits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> uint(i))
	}
}

func (w *bitWriter) ue(v uint32) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

func (w *bitWriter) finish() []byte {
	w.bit(1) // rbsp_stop_one_bit
	for w.used != 0 {
		w.bit(0)
	}
	return w.out
}

// escape inserts emulation prevention bytes.
func escape(rbsp []byte) []byte {
	var out []byte
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func baselineSPS(widthMbs, heightMbs, cropBottom uint32) []byte {
	w := &bitWriter{}
	w.bits(66, 8) // profile_idc
	w.bits(0xC0, 8)
	w.bits(31, 8) // level 3.1
	w.ue(0)       // sps id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(2)       // poc type
	w.ue(1)       // num_ref_frames
	w.bit(0)
	w.ue(widthMbs - 1)
	w.ue(heightMbs - 1)
	w.bit(1) // frame_mbs_only
	w.bit(1) // direct_8x8
	if cropBottom > 0 {
		w.bit(1)
		w.ue(0)
		w.ue(0)
		w.ue(0)
		w.ue(cropBottom)
	} else {
		w.bit(0)
	}
	w.bit(0) // vui
	return append([]byte{0x67}, escape(w.finish())...)
}

func TestParseSPS(t *testing.T) {
	info, err := ParseSPS_H264(baselineSPS(80, 45, 0), true)
	require.NoError(t, err)
	assert.EqualValues(t, 1280, info.Width)
	assert.EqualValues(t, 720, info.Height)
	assert.EqualValues(t, 66, info.Profile)
	assert.Equal(t, "3.1", info.Level)

	info, err = ParseSPS_H264(baselineSPS(120, 68, 4), true)
	require.NoError(t, err)
	assert.EqualValues(t, 1920, info.Width)
	assert.EqualValues(t, 1080, info.Height)

	info, err = ParseSPS_H264(baselineSPS(120, 68, 4), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1088, info.Height)

	_, err = ParseSPS_H264([]byte{0x65, 1, 2, 3}, true)
	require.ErrorIs(t, err, ErrNotSPS)

	_, err = ParseSPS_H264([]byte{0x67, 66, 0, 31}, true)
	require.Error(t, err)
}

func TestNALUnits(t *testing.T) {
	sps := baselineSPS(80, 45, 0)
	var au []byte
	au = AppendAnnexB(au, sps)
	au = append(au, 0, 0, 1, 0x68, 0xCE, 0x3C, 0x80) // 3 byte start code
	au = AppendAnnexB(au, []byte{0x65, 0x88, 0x84, 0x21})

	nals := slices.Collect(NALUnits(au))
	require.Len(t, nals, 3)
	assert.Equal(t, sps, nals[0])
	assert.EqualValues(t, NALTypePPS, NALType(nals[1]))
	assert.EqualValues(t, NALTypeIDR, NALType(nals[2]))

	assert.True(t, IsKeyFrame(au))
	assert.True(t, HasVCL(au))
	assert.Equal(t, sps, FindSPS(au))

	p := AppendAnnexB(nil, []byte{0x41, 0x9A, 0x02})
	assert.False(t, IsKeyFrame(p))
	assert.True(t, HasVCL(p))
	assert.Nil(t, FindSPS(p))

	assert.Empty(t, slices.Collect(NALUnits([]byte{1, 2, 3})))
}

func TestRemoveEmulationPreventionBytes(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 1, 0, 0, 3}, RemoveEmulationPreventionBytes([]byte{0, 0, 3, 1, 0, 0, 3, 3}))
	in := []byte{1, 2, 3}
	assert.Equal(t, in, RemoveEmulationPreventionBytes(in))
}

func TestExpGolomb(t *testing.T) {
	w := &bitWriter{}
	for _, v := range []uint32{0, 1, 2, 7, 255, 1000} {
		w.ue(v)
	}
	r := NewBitReader(w.finish())
	for _, want := range []uint32{0, 1, 2, 7, 255, 1000} {
		got, err := r.ReadExpGolomb()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	r = NewBitReader([]byte{0x20}) // 00100 000
	v, err := r.ReadExpGolomb()
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
}
