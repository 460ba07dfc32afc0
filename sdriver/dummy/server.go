package dummy

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk/wire"
)

// Config shapes how the dummy server behaves. The zero value grants whatever
// the client asks for and streams Frames once, 30 per second.
type Config struct {
	Frames   [][]byte
	Loop     bool
	Interval time.Duration

	// GrantWidth/GrantHeight/GrantQuality override the client's request in
	// the reply when non-zero.
	GrantWidth   uint32
	GrantHeight  uint32
	GrantQuality uint32

	// ChunkSize > 0 splits frames into indexed chunks of at most that size.
	ChunkSize int
	Layout    wire.IndexedChunkLayout
	// DropChunk, when set, suppresses matching chunks.
	DropChunk func(frame, chunk int) bool

	PingInterval time.Duration
	// SkipReply goes straight to video without answering the hello.
	SkipReply bool
	// Silent accepts the hello and never sends anything.
	Silent bool
	// StallAfter stops sending after that many frames while keeping the
	// connection open.
	StallAfter int
}

type Stats struct {
	Sessions    uint64
	FramesSent  uint64
	Acks        uint64
	PingEchoes  uint64
	Disconnects uint64
}

// Server speaks the server side of the spacedesk protocol well enough to
// drive a client through negotiation and streaming.
type Server struct {
	cfg  Config
	meta sdriver.MediaMeta
	ln   net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	hellos []wire.ConnectionStart

	sessions    atomic.Uint64
	framesSent  atomic.Uint64
	acks        atomic.Uint64
	pingEchoes  atomic.Uint64
	disconnects atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) (*Server, error) {
	if len(cfg.Frames) == 0 && !cfg.Silent {
		return nil, errors.New("dummy: no frames to stream")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 33 * time.Millisecond
	}
	if cfg.Layout == (wire.IndexedChunkLayout{}) {
		cfg.Layout = wire.DefaultIndexedLayout
	}
	return &Server{
		cfg:    cfg,
		meta:   probeMediaMeta(cfg.Frames),
		conns:  make(map[net.Conn]struct{}),
		stopCh: make(chan struct{}),
	}, nil
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve()
	}()
	slog.Info("dummy: listening", "addr", ln.Addr().String(), "frames", len(s.cfg.Frames))
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) MediaMeta() sdriver.MediaMeta { return s.meta }

// Hellos returns every CONNECTION_START received so far.
func (s *Server) Hellos() []wire.ConnectionStart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.ConnectionStart(nil), s.hellos...)
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:    s.sessions.Load(),
		FramesSent:  s.framesSent.Load(),
		Acks:        s.acks.Load(),
		PingEchoes:  s.pingEchoes.Load(),
		Disconnects: s.disconnects.Load(),
	}
}

// Close stops accepting, drops every client and waits for the handlers.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			s.ln.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				slog.Error("dummy: accept", "err", err)
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handle(conn)
		}()
	}
}
