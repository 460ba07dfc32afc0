package sagent

import (
	"sync"
	"sync/atomic"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk/delivery"

	"github.com/google/uuid"
)

// Viewer is one consumer of the relayed stream. Frames are read with Next;
// the mailbox never blocks the pump.
type Viewer struct {
	ID string

	box     *delivery.Queue[sdriver.VideoFrame]
	events  chan sdriver.Event
	needKey bool // guarded by hub.mu
	dropped atomic.Uint64

	left      chan struct{}
	leaveOnce sync.Once
}

func (v *Viewer) leave() {
	v.leaveOnce.Do(func() {
		v.box.Close()
		close(v.left)
	})
}

// Next returns the next frame for this viewer. sdriver.ErrClosed means the
// viewer was removed or the agent closed.
func (v *Viewer) Next(timeout time.Duration) (sdriver.VideoFrame, error) {
	return v.box.Pop(timeout)
}

// Events carries session state changes. Slow readers miss some.
func (v *Viewer) Events() <-chan sdriver.Event { return v.events }

func (v *Viewer) Dropped() uint64 { return v.dropped.Load() }

type hub struct {
	mu      sync.Mutex
	viewers map[string]*Viewer
	lastKey *sdriver.VideoFrame
	mailbox int
	closed  bool

	framesIn  atomic.Uint64
	keysIn    atomic.Uint64
	framesOut atomic.Uint64
	drops     atomic.Uint64
	replays   atomic.Uint64
}

func newHub(mailbox int) *hub {
	return &hub{viewers: make(map[string]*Viewer), mailbox: mailbox}
}

// add registers a viewer. It starts from the cached keyframe when there is
// one, otherwise it waits for the next keyframe.
func (h *hub) add() *Viewer {
	v := &Viewer{
		ID:     uuid.NewString(),
		box:    delivery.New[sdriver.VideoFrame](h.mailbox),
		events: make(chan sdriver.Event, 8),
		left:   make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		v.leave()
		return v
	}
	if h.lastKey != nil {
		v.box.Push(*h.lastKey)
		h.replays.Add(1)
	} else {
		v.needKey = true
	}
	h.viewers[v.ID] = v
	return v
}

func (h *hub) remove(v *Viewer) {
	h.mu.Lock()
	delete(h.viewers, v.ID)
	h.mu.Unlock()
	v.leave()
	v.box.Discard()
}

func (h *hub) broadcast(f sdriver.VideoFrame) {
	h.framesIn.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if f.IsKeyFrame {
		h.keysIn.Add(1)
		key := f
		h.lastKey = &key
	}
	for _, v := range h.viewers {
		if v.needKey && !f.IsKeyFrame {
			continue
		}
		if v.box.Len() >= v.box.Cap() {
			// what is queued still decodes; everything after waits for a keyframe
			v.needKey = true
			v.dropped.Add(1)
			h.drops.Add(1)
			continue
		}
		v.needKey = false
		v.box.Push(f)
		h.framesOut.Add(1)
	}
}

// replayKey queues the cached keyframe for v, used when a decoder asks for
// a fresh picture.
func (h *hub) replayKey(v *Viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastKey == nil || h.closed {
		return false
	}
	v.box.Push(*h.lastKey)
	v.needKey = false
	h.replays.Add(1)
	return true
}

func (h *hub) publish(e sdriver.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.viewers {
		sdriver.TrySend(v.events, e)
	}
}

// reset forgets the cached keyframe; a new session starts a new stream.
func (h *hub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastKey = nil
	for _, v := range h.viewers {
		v.needKey = true
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, v := range h.viewers {
		v.leave()
		delete(h.viewers, id)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}
