package sdriver

import "time"

type EventType uint8

const (
	EVENT_TYPE_STATE      EventType = 0x01
	EVENT_TYPE_MEDIA_META EventType = 0x02
	EVENT_TYPE_TEXT_MSG   EventType = 0x64
)

func (t EventType) String() string {
	switch t {
	case EVENT_TYPE_STATE:
		return "state"
	case EVENT_TYPE_MEDIA_META:
		return "media_meta"
	case EVENT_TYPE_TEXT_MSG:
		return "text"
	}
	return "unknown"
}

// Event notifies consumers about session changes that are not frames.
type Event struct {
	Type   EventType  `json:"-"`
	Kind   string     `json:"type"`
	State  string     `json:"state,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Meta   *MediaMeta `json:"meta,omitempty"`
	At     time.Time  `json:"at"`
}

func NewStateEvent(state, reason string) Event {
	return Event{Type: EVENT_TYPE_STATE, Kind: EVENT_TYPE_STATE.String(), State: state, Reason: reason, At: time.Now()}
}

func NewMediaMetaEvent(meta MediaMeta) Event {
	return Event{Type: EVENT_TYPE_MEDIA_META, Kind: EVENT_TYPE_MEDIA_META.String(), Meta: &meta, At: time.Now()}
}

// TrySend delivers e without blocking. Slow listeners miss events.
func TrySend(ch chan Event, e Event) bool {
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}
