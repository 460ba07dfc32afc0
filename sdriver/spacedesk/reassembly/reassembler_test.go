package reassembly

import (
	"bytes"
	"testing"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	messages []wire.PacketType
	frames   []sdriver.VideoFrame
}

func (c *collector) HandleMessage(m wire.Message)       { c.messages = append(c.messages, m.Type) }
func (c *collector) HandleFrame(f sdriver.VideoFrame) { c.frames = append(c.frames, f) }

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func idr(n byte) []byte   { return []byte{0, 0, 0, 1, 0x65, 0x88, n, n} }
func slice(n byte) []byte { return []byte{0, 0, 0, 1, 0x41, 0x9A, n, n} }

func chunk(seq, index, count uint32, payload []byte) []byte {
	m := wire.NewVideoData(payload)
	wire.DefaultIndexedLayout.Stamp(&m, wire.ChunkInfo{Sequence: seq, Index: index, Count: count})
	return wire.Encode(m)
}

func concat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

// slices encodes count whole-frame messages numbered from first.
func slices(first, count int) []byte {
	var out []byte
	for i := range count {
		out = wire.AppendEncode(out, wire.NewVideoData(slice(byte(first+i))))
	}
	return out
}

func wholeStream() []byte {
	return concat(
		wire.Encode(wire.NewConnectionStart(wire.ConnectionStart{Width: 1280, Height: 720})),
		wire.Encode(wire.NewVideoData(idr(1))),
		wire.Encode(wire.NewPing()),
		wire.Encode(wire.NewVideoData(slice(2))),
		wire.Encode(wire.Message{Type: wire.PacketType(42), Payload: []byte("future")}),
		wire.Encode(wire.NewVideoData(slice(3))),
	)
}

func TestWholeFrames(t *testing.T) {
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	r.Feed(wholeStream(), c)

	require.Len(t, c.frames, 3)
	assert.Equal(t, idr(1), c.frames[0].Data)
	assert.True(t, c.frames[0].IsKeyFrame)
	assert.False(t, c.frames[1].IsKeyFrame)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{c.frames[0].Sequence, c.frames[1].Sequence, c.frames[2].Sequence})
	assert.False(t, c.frames[0].HasSequence)
	assert.Equal(t, epoch, c.frames[2].ArrivedAt)
	assert.Equal(t, 1, c.frames[2].Chunks)

	assert.Equal(t, []wire.PacketType{
		wire.TypeConnectionStart, wire.TypeVideoData, wire.TypePing,
		wire.TypeVideoData, wire.PacketType(42), wire.TypeVideoData,
	}, c.messages)

	st := r.Stats()
	assert.EqualValues(t, 6, st.Messages)
	assert.EqualValues(t, 3, st.Frames)
	assert.EqualValues(t, 1, st.UnknownMessages)
	assert.Zero(t, r.Buffered())
}

func TestSplitIndependence(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xEE}, 23)
	streams := map[string]struct {
		layout wire.ChunkLayout
		data   []byte
	}{
		"whole": {nil, wholeStream()},
		"indexed": {wire.DefaultIndexedLayout, concat(
			chunk(1, 0, 2, idr(1)[:4]), chunk(1, 1, 2, idr(1)[4:]),
			wire.Encode(wire.NewPing()),
			chunk(2, 0, 3, slice(2)[:2]), chunk(2, 1, 3, slice(2)[2:5]), chunk(2, 2, 3, slice(2)[5:]),
		)},
		"with corruption": {nil, concat(
			wire.Encode(wire.NewVideoData(idr(1))),
			garbage,
			wire.Encode(wire.NewVideoData(slice(2))),
		)},
		"with false unknown header": {nil, concat(
			wire.Encode(wire.NewVideoData(idr(1))),
			[]byte{0x63, 0, 0, 0, 0, 0x04, 0, 0},
			slices(2, 10),
		)},
	}
	for name, s := range streams {
		t.Run(name, func(t *testing.T) {
			want := &collector{}
			New(s.layout, Options{Now: fixedClock}).Feed(s.data, want)
			require.NotEmpty(t, want.frames)

			for cut := 0; cut <= len(s.data); cut++ {
				got := &collector{}
				r := New(s.layout, Options{Now: fixedClock})
				r.Feed(s.data[:cut], got)
				r.Feed(s.data[cut:], got)
				require.Equal(t, want.frames, got.frames, "cut at %d", cut)
				require.Equal(t, want.messages, got.messages, "cut at %d", cut)
			}

			got := &collector{}
			r := New(s.layout, Options{Now: fixedClock})
			for i := range s.data {
				r.Feed(s.data[i:i+1], got)
			}
			require.Equal(t, want.frames, got.frames, "byte by byte")
		})
	}
}

func TestResyncLosesAtMostOneFrame(t *testing.T) {
	second := wire.Encode(wire.NewVideoData(slice(2)))
	// corrupt the length word of the second frame's header
	corrupt := append([]byte(nil), second...)
	copy(corrupt[4:8], []byte{0xFF, 0xFF, 0xFF, 0x7F})

	data := concat(
		wire.Encode(wire.NewVideoData(idr(1))),
		corrupt,
		wire.Encode(wire.NewVideoData(slice(3))),
		wire.Encode(wire.NewVideoData(slice(4))),
	)
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	r.Feed(data, c)

	require.Len(t, c.frames, 3)
	assert.Equal(t, idr(1), c.frames[0].Data)
	assert.Equal(t, slice(3), c.frames[1].Data)
	assert.Equal(t, slice(4), c.frames[2].Data)
	st := r.Stats()
	assert.EqualValues(t, 1, st.Resyncs)
	assert.EqualValues(t, len(corrupt), st.DiscardedBytes)
}

func TestResyncAfterFalseUnknownHeader(t *testing.T) {
	// reads as an unknown type with a 4096 byte payload
	injected := []byte{0x63, 0, 0, 0, 0, 0x10, 0, 0}
	data := concat(
		wire.Encode(wire.NewVideoData(idr(1))),
		injected,
		slices(2, 58),
	)
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	r.Feed(data, c)

	require.Len(t, c.frames, 59)
	for i, f := range c.frames[1:] {
		require.Equal(t, slice(byte(i+2)), f.Data, "frame %d", i+1)
	}
	st := r.Stats()
	assert.EqualValues(t, 1, st.Resyncs)
	assert.EqualValues(t, len(injected), st.DiscardedBytes)
	assert.Zero(t, st.UnknownMessages)
}

func TestResyncAfterZeroRun(t *testing.T) {
	data := concat(
		wire.Encode(wire.NewVideoData(idr(1))),
		make([]byte, 200),
		slices(2, 3),
	)
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	r.Feed(data, c)

	require.Len(t, c.frames, 4)
	assert.Equal(t, slice(2), c.frames[1].Data)
	st := r.Stats()
	assert.EqualValues(t, 1, st.Resyncs)
	assert.EqualValues(t, 200, st.DiscardedBytes)
}

func TestUnknownMessageWaitsForNextHeader(t *testing.T) {
	unknown := wire.Encode(wire.Message{Type: wire.PacketType(42), Payload: []byte("future")})
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	r.Feed(unknown, c)
	assert.Empty(t, c.messages)
	assert.Equal(t, len(unknown), r.Buffered())

	r.Feed(wire.Encode(wire.NewPing()), c)
	assert.Equal(t, []wire.PacketType{wire.PacketType(42), wire.TypePing}, c.messages)
	assert.EqualValues(t, 1, r.Stats().UnknownMessages)
	assert.Zero(t, r.Stats().Resyncs)
}

func TestMissingMiddleChunkDropsFrame(t *testing.T) {
	data := concat(
		chunk(1, 0, 3, idr(1)[:3]),
		// chunk 1 of 3 never arrives
		chunk(1, 2, 3, idr(1)[6:]),
		chunk(2, 0, 2, slice(2)[:4]),
		chunk(2, 1, 2, slice(2)[4:]),
	)
	c := &collector{}
	r := New(wire.DefaultIndexedLayout, Options{Now: fixedClock})
	r.Feed(data, c)

	require.Len(t, c.frames, 1)
	assert.Equal(t, slice(2), c.frames[0].Data)
	assert.EqualValues(t, 2, c.frames[0].Sequence)
	assert.True(t, c.frames[0].HasSequence)
	assert.Equal(t, 2, c.frames[0].Chunks)
	assert.EqualValues(t, 1, r.Stats().DroppedFrames)
}

func TestOutOfOrderChunksDropFrame(t *testing.T) {
	data := concat(
		chunk(5, 0, 3, []byte{0, 0, 0}),
		chunk(5, 2, 3, []byte{1, 0x65, 1}),
		chunk(5, 1, 3, []byte{0, 1, 0x65}),
		chunk(6, 0, 1, idr(6)),
	)
	c := &collector{}
	r := New(wire.DefaultIndexedLayout, Options{Now: fixedClock})
	r.Feed(data, c)

	require.Len(t, c.frames, 1)
	assert.EqualValues(t, 6, c.frames[0].Sequence)
	st := r.Stats()
	assert.EqualValues(t, 1, st.DroppedFrames)
	assert.EqualValues(t, 2, st.BadChunks)
}

func TestNewGroupReplacesUnfinishedOne(t *testing.T) {
	data := concat(
		chunk(1, 0, 2, idr(1)[:4]),
		chunk(2, 0, 2, slice(2)[:4]),
		chunk(2, 1, 2, slice(2)[4:]),
	)
	c := &collector{}
	r := New(wire.DefaultIndexedLayout, Options{Now: fixedClock})
	r.Feed(data, c)
	require.Len(t, c.frames, 1)
	assert.Equal(t, slice(2), c.frames[0].Data)
	assert.EqualValues(t, 1, r.Stats().DroppedFrames)
}

func TestInvalidChunkIndex(t *testing.T) {
	c := &collector{}
	r := New(wire.DefaultIndexedLayout, Options{Now: fixedClock})
	r.Feed(concat(chunk(1, 4, 2, idr(1)), chunk(2, 0, 1, idr(2))), c)
	require.Len(t, c.frames, 1)
	assert.EqualValues(t, 1, r.Stats().BadChunks)
}

func TestReset(t *testing.T) {
	c := &collector{}
	r := New(nil, Options{Now: fixedClock})
	b := wire.Encode(wire.NewVideoData(idr(1)))
	r.Feed(b[:50], c)
	assert.Equal(t, 50, r.Buffered())
	r.Reset()
	r.Feed(b, c)
	require.Len(t, c.frames, 1)
}
