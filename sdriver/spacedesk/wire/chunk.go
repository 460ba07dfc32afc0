package wire

// ChunkInfo tells the reassembler where a VIDEO_DATA payload belongs.
type ChunkInfo struct {
	Sequence    uint32
	HasSequence bool
	Index       uint32
	Count       uint32
}

// Last reports whether this chunk completes its group.
func (c ChunkInfo) Last() bool { return c.Index+1 == c.Count }

// ChunkLayout locates a VIDEO_DATA message inside its frame.
type ChunkLayout interface {
	Locate(m Message) (ChunkInfo, error)
}

// WholeFrameLayout treats every VIDEO_DATA as one complete access unit.
// Captured traffic from real servers looks like this.
type WholeFrameLayout struct{}

func (WholeFrameLayout) Locate(Message) (ChunkInfo, error) {
	return ChunkInfo{Index: 0, Count: 1}, nil
}

// IndexedChunkLayout reads a group sequence, a chunk index and a chunk count
// as u32 words from fixed header offsets.
type IndexedChunkLayout struct {
	SequenceOffset int
	IndexOffset    int
	CountOffset    int
}

// DefaultIndexedLayout places the three words right after the length.
var DefaultIndexedLayout = IndexedChunkLayout{SequenceOffset: 8, IndexOffset: 12, CountOffset: 16}

func (l IndexedChunkLayout) Locate(m Message) (ChunkInfo, error) {
	for _, off := range []int{l.SequenceOffset, l.IndexOffset, l.CountOffset} {
		if off < 8 || off+4 > HeaderSize {
			return ChunkInfo{}, malformed(m.Type, "chunk field offset %d outside header", off)
		}
	}
	info := ChunkInfo{
		Sequence:    m.Uint32(l.SequenceOffset),
		HasSequence: true,
		Index:       m.Uint32(l.IndexOffset),
		Count:       m.Uint32(l.CountOffset),
	}
	if info.Count == 0 {
		return ChunkInfo{}, malformed(m.Type, "chunk count is zero")
	}
	if info.Index >= info.Count {
		return ChunkInfo{}, malformed(m.Type, "chunk index %d >= count %d", info.Index, info.Count)
	}
	return info, nil
}

// Stamp writes info into m's header using this layout.
func (l IndexedChunkLayout) Stamp(m *Message, info ChunkInfo) {
	m.PutUint32(l.SequenceOffset, info.Sequence)
	m.PutUint32(l.IndexOffset, info.Index)
	m.PutUint32(l.CountOffset, info.Count)
}
