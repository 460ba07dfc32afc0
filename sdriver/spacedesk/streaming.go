package spacedesk

import (
	"errors"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/comm"
	"spacescreen/sdriver/spacedesk/transport"
	"spacescreen/sdriver/spacedesk/wire"
)

var ackPacket = wire.Encode(wire.NewVideoDataAck())

// receive is the only reader of the connection. It runs until the link dies,
// the server leaves or Stop closes the socket.
func (d *Driver) receive(conn *transport.Conn, pending []byte) {
	defer close(d.done)

	h := &streamHandler{d: d, conn: conn}
	if len(pending) > 0 {
		d.reasm.Feed(pending, h)
	}
	lastData := time.Now()
	for h.err == nil {
		p, err := conn.Read(d.cfg.ReadSize, d.cfg.ReadTimeout)
		if err == nil {
			lastData = time.Now()
			d.reasm.Feed(p, h)
			continue
		}
		if d.stopping() {
			return
		}
		switch {
		case errors.Is(err, transport.ErrTimedOut):
			if time.Since(lastData) < d.cfg.IdleTimeout {
				continue
			}
			h.err = &ConnectionError{Op: "read", Err: ErrLinkDead}
		case errors.Is(err, transport.ErrClosed):
			h.err = &ConnectionError{Op: "read", Err: ErrPeerClosed}
		default:
			h.err = &ConnectionError{Op: "read", Err: err}
		}
	}
	if d.stopping() {
		return
	}
	conn.Close()
	d.fail(h.err)
}

func (d *Driver) stopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// streamHandler answers the server and forwards frames to the queue.
type streamHandler struct {
	d    *Driver
	conn *transport.Conn
	err  error
	sps  []byte
}

func (h *streamHandler) HandleMessage(m wire.Message) {
	if h.err != nil {
		return
	}
	switch m.Type {
	case wire.TypeVideoData:
		if err := h.conn.Write(ackPacket); err != nil {
			h.err = &ConnectionError{Op: "ack", Err: err}
			return
		}
		h.d.acks.Add(1)
	case wire.TypePing:
		if err := h.conn.Write(wire.Encode(m)); err != nil {
			h.err = &ConnectionError{Op: "ping", Err: err}
			return
		}
		h.d.pings.Add(1)
	case wire.TypeDisconnect:
		h.d.log.Info("spacedesk: server sent DISCONNECT")
		h.err = &ConnectionError{Op: "read", Err: ErrServerDisconnect}
	case wire.TypeConnectionStart:
		h.d.log.Debug("spacedesk: ignoring CONNECTION_START while streaming")
	default:
		h.d.log.Debug("spacedesk: ignoring message", "type", m.Type.String(), "size", len(m.Payload))
	}
}

func (h *streamHandler) HandleFrame(f sdriver.VideoFrame) {
	if h.err != nil {
		// the session ended earlier in this read
		return
	}
	if f.IsKeyFrame {
		h.trackSPS(f.Data)
	}
	if h.d.queue.Push(f) {
		h.d.log.Debug("spacedesk: renderer behind, dropped oldest frame")
	}
}

// trackSPS keeps MediaMeta in line with the resolution the encoder actually
// uses, which can differ from the negotiated one.
func (h *streamHandler) trackSPS(au []byte) {
	sps := comm.FindSPS(au)
	if sps == nil || string(sps) == string(h.sps) {
		return
	}
	h.sps = append(h.sps[:0], sps...)
	info, err := comm.ParseSPS_H264(sps, true)
	if err != nil {
		h.d.log.Debug("spacedesk: unreadable SPS", "err", err)
		return
	}

	d := h.d
	d.mu.Lock()
	changed := d.meta.Width != int(info.Width) || d.meta.Height != int(info.Height)
	d.meta.Width, d.meta.Height = int(info.Width), int(info.Height)
	meta := d.meta
	d.mu.Unlock()
	if changed {
		d.log.Info("spacedesk: stream resolution", "width", info.Width, "height", info.Height)
		sdriver.TrySend(d.events, sdriver.NewMediaMetaEvent(meta))
	}
}
