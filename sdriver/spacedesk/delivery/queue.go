// Package delivery hands frames from the network loop to a consumer that runs
// at its own pace.
//
// Push never blocks. When the queue is full the oldest frame is evicted, which
// bounds latency rather than memory: a renderer that falls behind sees the
// newest frames, not a growing backlog.
//
// Pop waits up to a timeout. After Close, frames still queued are handed out
// and then every Pop returns sdriver.ErrClosed.
package delivery

import (
	"sync"
	"time"

	"spacescreen/sdriver"
)

// DefaultCapacity holds close to a second of 60 fps video.
const DefaultCapacity = 50

type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	n      int
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	pushed  uint64
	popped  uint64
	evicted uint64
}

type Stats struct {
	Pushed   uint64
	Popped   uint64
	Evicted  uint64
	Len      int
	Capacity int
}

// New returns a queue holding at most capacity items (at least one).
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v, evicting the oldest item if the queue is full. It reports
// whether an eviction happened. Pushes after Close are discarded.
func (q *Queue[T]) Push(v T) (evicted bool) {
	var zero T
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.n == len(q.buf) {
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.evicted++
		evicted = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	q.pushed++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// A timeout <= 0 polls once.
func (q *Queue[T]) Pop(timeout time.Duration) (T, error) {
	var zero T
	var expired <-chan time.Time
	for {
		q.mu.Lock()
		if q.n > 0 {
			v := q.buf[q.head]
			q.buf[q.head] = zero
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.popped++
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, sdriver.ErrClosed
		}
		if timeout <= 0 {
			return zero, sdriver.ErrEmpty
		}
		if expired == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-expired:
			return zero, sdriver.ErrEmpty
		}
	}
}

// Close stops accepting items and wakes a waiting Pop. Idempotent.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// Discard drops everything queued.
func (q *Queue[T]) Discard() {
	var zero T
	q.mu.Lock()
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.n = 0, 0
	q.mu.Unlock()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue[T]) Cap() int { return len(q.buf) }

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pushed:   q.pushed,
		Popped:   q.popped,
		Evicted:  q.evicted,
		Len:      q.n,
		Capacity: len(q.buf),
	}
}
