package sdriver

import (
	"errors"
	"time"
)

var (
	// ErrEmpty means no frame arrived within the timeout.
	ErrEmpty = errors.New("sdriver: no frame available")
	// ErrClosed means the source ended and nothing is left to drain.
	ErrClosed = errors.New("sdriver: source closed")
)

// FrameSource is what a renderer, recorder or relay consumes. NextFrame has a
// single consumer.
type FrameSource interface {
	NextFrame(timeout time.Duration) (VideoFrame, error)
	MediaMeta() MediaMeta
	Events() <-chan Event
	Stop()
}
