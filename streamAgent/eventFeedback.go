package sagent

import (
	"encoding/json"
	"log/slog"
)

// EventFeedback forwards the viewer's session events to handler as JSON
// until handler returns false or the viewer leaves.
func (v *Viewer) EventFeedback(handler func([]byte) bool) {
	for {
		select {
		case <-v.left:
			return
		case event := <-v.events:
			msg, err := json.Marshal(event)
			if err != nil {
				slog.Warn("sagent: encode event", "type", event.Type.String(), "err", err)
				continue
			}
			if !handler(msg) {
				return
			}
		}
	}
}
