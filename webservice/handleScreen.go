package webservice

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"spacescreen/sdriver"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const framePoll = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleScreenWS streams raw Annex-B access units as binary messages.
// Session events and the initial media description go out as JSON text.
func (wm *WebMaster) handleScreenWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("webservice: websocket upgrade failed", "err", err)
		return
	}
	viewer := wm.agent.Subscribe()
	session := &ScreenSession{SessionID: viewer.ID, WSConn: conn, Viewer: viewer}

	wm.mu.Lock()
	wm.ScreenSessions[session.SessionID] = session
	wm.mu.Unlock()
	defer wm.removeScreenSession(session)

	hello := gin.H{"type": "hello", "viewer": viewer.ID, "media_meta": wm.agent.MediaMeta()}
	if err := session.writeJSON(hello); err != nil {
		return
	}
	slog.Info("webservice: websocket viewer joined", "viewer", viewer.ID, "remote", c.Request.RemoteAddr)

	go wm.listenScreenWS(session)
	go wm.listenEventFeedback(session)

	for {
		f, err := viewer.Next(framePoll)
		if errors.Is(err, sdriver.ErrEmpty) {
			continue
		}
		if err != nil {
			return
		}
		if err := session.write(websocket.BinaryMessage, f.Data); err != nil {
			return
		}
	}
}

// listenScreenWS drains the client side. Viewers have nothing to say; a
// read error means they left.
func (wm *WebMaster) listenScreenWS(session *ScreenSession) {
	for {
		mType, msg, err := session.WSConn.ReadMessage()
		if err != nil {
			break
		}
		slog.Debug("webservice: ignoring viewer message", "viewer", session.SessionID, "type", mType, "size", len(msg))
	}
	wm.agent.Unsubscribe(session.Viewer)
	session.Close()
}

func (wm *WebMaster) listenEventFeedback(session *ScreenSession) {
	session.Viewer.EventFeedback(func(msg []byte) bool {
		if err := session.write(websocket.TextMessage, msg); err != nil {
			slog.Debug("webservice: event not delivered", "viewer", session.SessionID, "err", err)
			return false
		}
		return true
	})
}

func (wm *WebMaster) removeScreenSession(session *ScreenSession) {
	wm.mu.Lock()
	delete(wm.ScreenSessions, session.SessionID)
	wm.mu.Unlock()
	wm.agent.Unsubscribe(session.Viewer)
	session.Close()
	slog.Info("webservice: websocket viewer left", "viewer", session.SessionID, "dropped", session.Viewer.Dropped())
}

type sdpRequest struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type"`
}

func (wm *WebMaster) handleWebRTC(c *gin.Context) {
	var req sdpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type != "" && req.Type != "offer" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected an offer"})
		return
	}
	answer, err := wm.agent.CreateWebRTCConnection(req.SDP)
	if err != nil {
		slog.Warn("webservice: webrtc signalling failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": "answer", "sdp": answer})
}
