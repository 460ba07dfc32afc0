package reassembly

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/comm"
	"spacescreen/sdriver/spacedesk/wire"
)

var errUnconfirmed = errors.New("reassembly: no plausible header after doubtful message")

// Handler receives everything the reassembler decodes. HandleMessage sees
// every message, video chunks included, before any frame it completes.
type Handler interface {
	HandleMessage(m wire.Message)
	HandleFrame(f sdriver.VideoFrame)
}

type Options struct {
	// Now stamps ArrivedAt. Defaults to time.Now.
	Now func() time.Time
}

type Stats struct {
	Messages        uint64
	Frames          uint64
	Resyncs         uint64
	DiscardedBytes  uint64
	DroppedFrames   uint64
	UnknownMessages uint64
	BadChunks       uint64
}

// Reassembler turns a raw byte stream into complete video frames. It is
// driven by a single goroutine; Stats may be read from any goroutine.
type Reassembler struct {
	layout wire.ChunkLayout
	now    func() time.Time

	buf     []byte
	hunting bool // looking for a plausible header after corruption
	group   *group
	ordinal uint32

	messages        atomic.Uint64
	frames          atomic.Uint64
	resyncs         atomic.Uint64
	discardedBytes  atomic.Uint64
	droppedFrames   atomic.Uint64
	unknownMessages atomic.Uint64
	badChunks       atomic.Uint64
}

// group collects the chunks of one frame.
type group struct {
	info   wire.ChunkInfo
	next   uint32
	data   []byte
	chunks int
}

func New(layout wire.ChunkLayout, opts Options) *Reassembler {
	if layout == nil {
		layout = wire.WholeFrameLayout{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reassembler{layout: layout, now: opts.Now}
}

// Feed appends p to the internal buffer and decodes as much as possible.
// How the stream is split across calls does not change the result.
func (r *Reassembler) Feed(p []byte, h Handler) {
	r.buf = append(r.buf, p...)
	off := 0
	for off < len(r.buf) {
		rest := r.buf[off:]
		if r.hunting {
			if len(rest) < 8 {
				break
			}
			if !wire.Plausible(rest) {
				skip := wire.Resync(rest)
				r.discardedBytes.Add(uint64(skip))
				off += skip
				continue
			}
			r.hunting = false
		}

		m, n, err := wire.Decode(rest)
		if errors.Is(err, wire.ErrNeedMoreData) {
			break
		}
		if err == nil && wire.Doubtful(m) {
			if len(rest) < n+8 {
				// decided by the next header
				break
			}
			if !wire.Confirm(rest, n) {
				err = errUnconfirmed
			}
		}
		if err != nil {
			skip := wire.Resync(rest)
			slog.Debug("reassembly: resync", "skipped", skip, "err", err)
			r.resyncs.Add(1)
			r.discardedBytes.Add(uint64(skip))
			r.abandon()
			r.hunting = true
			off += skip
			continue
		}
		off += n
		r.messages.Add(1)
		h.HandleMessage(m)

		switch {
		case m.Type == wire.TypeVideoData:
			r.video(m, h)
		case !m.Type.Known():
			r.unknownMessages.Add(1)
		}
	}
	r.buf = append(r.buf[:0], r.buf[off:]...)
}

func (r *Reassembler) video(m wire.Message, h Handler) {
	info, err := r.layout.Locate(m)
	if err != nil {
		slog.Debug("reassembly: bad chunk", "err", err)
		r.badChunks.Add(1)
		r.abandon()
		return
	}

	if info.Count == 1 {
		r.abandon()
		r.emit(h, info, m.Payload, 1)
		return
	}
	if info.Index == 0 {
		r.abandon()
		r.group = &group{info: info, next: 1, data: m.Payload, chunks: 1}
		return
	}

	g := r.group
	if g == nil {
		// the rest of a frame that was already given up
		r.badChunks.Add(1)
		return
	}
	if g.info.Sequence != info.Sequence || g.info.Count != info.Count || g.next != info.Index {
		r.abandon()
		r.badChunks.Add(1)
		return
	}
	g.data = append(g.data, m.Payload...)
	g.chunks++
	g.next++
	if info.Last() {
		r.group = nil
		r.emit(h, info, g.data, g.chunks)
	}
}

// abandon drops a partially collected frame. Partial frames are never
// delivered.
func (r *Reassembler) abandon() {
	if r.group == nil {
		return
	}
	slog.Debug("reassembly: dropping incomplete frame",
		"sequence", r.group.info.Sequence, "chunks", r.group.chunks, "count", r.group.info.Count)
	r.group = nil
	r.droppedFrames.Add(1)
}

func (r *Reassembler) emit(h Handler, info wire.ChunkInfo, data []byte, chunks int) {
	r.ordinal++
	seq := r.ordinal
	if info.HasSequence {
		seq = info.Sequence
	}
	r.frames.Add(1)
	h.HandleFrame(sdriver.VideoFrame{
		Data:        data,
		Sequence:    seq,
		HasSequence: info.HasSequence,
		ArrivedAt:   r.now(),
		Chunks:      chunks,
		IsKeyFrame:  comm.IsKeyFrame(data),
	})
}

// Reset forgets buffered bytes and any partial frame.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.group = nil
	r.hunting = false
}

// Buffered reports how many undecoded bytes are held.
func (r *Reassembler) Buffered() int { return len(r.buf) }

func (r *Reassembler) Stats() Stats {
	return Stats{
		Messages:        r.messages.Load(),
		Frames:          r.frames.Load(),
		Resyncs:         r.resyncs.Load(),
		DiscardedBytes:  r.discardedBytes.Load(),
		DroppedFrames:   r.droppedFrames.Load(),
		UnknownMessages: r.unknownMessages.Load(),
		BadChunks:       r.badChunks.Load(),
	}
}
