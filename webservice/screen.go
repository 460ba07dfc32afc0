package webservice

import (
	"sync"

	sagent "spacescreen/streamAgent"

	"github.com/gorilla/websocket"
)

// ScreenSession is one WebSocket viewer. Frames and events are written from
// different goroutines, so writes go through the session.
type ScreenSession struct {
	SessionID string
	WSConn    *websocket.Conn
	Viewer    *sagent.Viewer

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (sc *ScreenSession) write(messageType int, data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.WSConn.WriteMessage(messageType, data)
}

func (sc *ScreenSession) writeJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.WSConn.WriteJSON(v)
}

func (sc *ScreenSession) Close() {
	sc.closeOnce.Do(func() {
		sc.WSConn.Close()
	})
}
