package dummy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"spacescreen/sdriver/spacedesk/wire"
)

const handshakeTimeout = 5 * time.Second

func (s *Server) handle(conn net.Conn) {
	s.sessions.Add(1)
	remote := conn.RemoteAddr().String()

	hello, rest, err := readHello(conn)
	if err != nil {
		slog.Warn("dummy: handshake failed", "remote", remote, "err", err)
		return
	}
	s.mu.Lock()
	s.hellos = append(s.hellos, hello)
	s.mu.Unlock()
	slog.Info("dummy: client connected", "remote", remote, "ident", hello.Identification,
		"width", hello.Width, "height", hello.Height, "quality", hello.Quality)

	done := make(chan struct{})
	go s.readClient(conn, rest, done)

	if s.cfg.Silent {
		select {
		case <-done:
		case <-s.stopCh:
		}
		return
	}
	if !s.cfg.SkipReply {
		reply := wire.DefaultConnectionStart(
			grant(s.cfg.GrantWidth, hello.Width),
			grant(s.cfg.GrantHeight, hello.Height),
			grant(s.cfg.GrantQuality, hello.Quality),
			"dummy",
		)
		if _, err := conn.Write(wire.Encode(wire.NewConnectionStart(reply))); err != nil {
			return
		}
	}
	s.stream(conn, done)
	slog.Info("dummy: client gone", "remote", remote)
}

func grant(override, requested uint32) uint32 {
	if override != 0 {
		return override
	}
	return requested
}

func readHello(conn net.Conn) (wire.ConnectionStart, []byte, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var buf []byte
	p := make([]byte, 4096)
	for {
		m, n, err := wire.Decode(buf)
		if err == nil {
			if m.Type != wire.TypeConnectionStart {
				return wire.ConnectionStart{}, nil, fmt.Errorf("dummy: expected CONNECTION_START, got %s", m.Type)
			}
			cs, err := wire.ParseConnectionStart(m)
			return cs, buf[n:], err
		}
		if !errors.Is(err, wire.ErrNeedMoreData) {
			return wire.ConnectionStart{}, nil, err
		}
		k, err := conn.Read(p)
		if err != nil {
			return wire.ConnectionStart{}, nil, err
		}
		buf = append(buf, p[:k]...)
	}
}

// readClient counts what the client sends back until it leaves.
func (s *Server) readClient(conn net.Conn, buf []byte, done chan struct{}) {
	defer close(done)
	p := make([]byte, 4096)
	for {
		m, n, err := wire.Decode(buf)
		if errors.Is(err, wire.ErrNeedMoreData) {
			k, err := conn.Read(p)
			if err != nil {
				return
			}
			buf = append(buf, p[:k]...)
			continue
		}
		if err != nil {
			slog.Warn("dummy: bad client message", "err", err)
			return
		}
		buf = buf[n:]
		switch m.Type {
		case wire.TypeVideoDataAck:
			s.acks.Add(1)
		case wire.TypePing:
			s.pingEchoes.Add(1)
		case wire.TypeDisconnect:
			s.disconnects.Add(1)
			return
		}
	}
}

func (s *Server) stream(conn net.Conn, done <-chan struct{}) {
	frames := time.NewTicker(s.cfg.Interval)
	defer frames.Stop()
	var pings <-chan time.Time
	if s.cfg.PingInterval > 0 {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		pings = t.C
	}

	idx, sent := 0, 0
	for {
		select {
		case <-done:
			return
		case <-s.stopCh:
			return
		case <-pings:
			if _, err := conn.Write(wire.Encode(wire.NewPing())); err != nil {
				return
			}
		case <-frames.C:
			if s.cfg.StallAfter > 0 && sent >= s.cfg.StallAfter {
				continue
			}
			if idx >= len(s.cfg.Frames) {
				if !s.cfg.Loop {
					continue
				}
				idx = 0
			}
			if err := s.sendFrame(conn, sent, s.cfg.Frames[idx]); err != nil {
				return
			}
			idx++
			sent++
			s.framesSent.Add(1)
		}
	}
}

func (s *Server) sendFrame(conn net.Conn, n int, au []byte) error {
	if s.cfg.ChunkSize <= 0 {
		_, err := conn.Write(wire.Encode(wire.NewVideoData(au)))
		return err
	}
	count := (len(au) + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize
	var out []byte
	for i := 0; i < count; i++ {
		if s.cfg.DropChunk != nil && s.cfg.DropChunk(n, i) {
			continue
		}
		part := au[i*s.cfg.ChunkSize : min((i+1)*s.cfg.ChunkSize, len(au))]
		m := wire.NewVideoData(part)
		s.cfg.Layout.Stamp(&m, wire.ChunkInfo{Sequence: uint32(n), Index: uint32(i), Count: uint32(count)})
		out = wire.AppendEncode(out, m)
	}
	_, err := conn.Write(out)
	return err
}
