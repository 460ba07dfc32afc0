package webservice

import (
	"net/http"

	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk"
	sagent "spacescreen/streamAgent"

	"github.com/gin-gonic/gin"
)

type SessionStatus struct {
	Connected bool              `json:"connected"`
	State     string            `json:"state"`
	Error     string            `json:"error,omitempty"`
	Params    *spacedesk.Params `json:"params,omitempty"`
	Stats     *spacedesk.Stats  `json:"stats,omitempty"`
	MediaMeta sdriver.MediaMeta `json:"media_meta"`
	Relay     sagent.Stats      `json:"relay"`
}

func (wm *WebMaster) Status() SessionStatus {
	st := SessionStatus{
		State:     spacedesk.Disconnected.String(),
		MediaMeta: wm.agent.MediaMeta(),
		Relay:     wm.agent.Stats(),
	}
	var d *spacedesk.Driver
	if wm.session != nil {
		d = wm.session()
	}
	if d == nil {
		return st
	}
	st.Connected = true
	st.State = d.State().String()
	if err := d.Err(); err != nil {
		st.Error = err.Error()
	}
	params, stats := d.Params(), d.Stats()
	st.Params, st.Stats = &params, &stats
	return st
}

func (wm *WebMaster) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, wm.Status())
}
