package webservice

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"spacescreen/sdriver/spacedesk"
	sagent "spacescreen/streamAgent"

	"github.com/gin-gonic/gin"
	"github.com/grandcat/zeroconf"
)

//go:embed static
var staticFiles embed.FS

type WebMasterConfig struct {
	Listen       string
	Advertise    bool
	InstanceName string
}

// SessionFunc returns the session currently being relayed, nil between
// sessions.
type SessionFunc func() *spacedesk.Driver

// WebMaster serves the relay: a viewer page, the frame WebSocket, WebRTC
// signalling, session status and metrics.
type WebMaster struct {
	config  WebMasterConfig
	agent   *sagent.Agent
	session SessionFunc
	metrics http.Handler
	router  *gin.Engine

	mu             sync.Mutex
	ScreenSessions map[string]*ScreenSession
	server         *http.Server
	mdns           *zeroconf.Server
}

// New builds the relay. metrics may be nil.
func New(config WebMasterConfig, agent *sagent.Agent, session SessionFunc, metrics http.Handler) *WebMaster {
	if config.Listen == "" {
		config.Listen = ":8079"
	}
	if config.InstanceName == "" {
		config.InstanceName = "spacescreen"
	}
	wm := &WebMaster{
		config:         config,
		agent:          agent,
		session:        session,
		metrics:        metrics,
		ScreenSessions: make(map[string]*ScreenSession),
	}
	wm.setRouter()
	return wm
}

func (wm *WebMaster) setRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	subFS, _ := fs.Sub(staticFiles, "static")
	r.GET("/", func(c *gin.Context) {
		c.FileFromFS("/", http.FS(subFS))
	})
	screen := r.Group("/screen")
	{
		screen.GET("/ws", wm.handleScreenWS)
		screen.POST("/webrtc", wm.handleWebRTC)
	}
	api := r.Group("/api")
	{
		api.GET("/session", wm.handleSession)
	}
	if wm.metrics != nil {
		r.GET("/metrics", gin.WrapH(wm.metrics))
	}
	wm.router = r
}

func (wm *WebMaster) Handler() http.Handler { return wm.router }

// Serve listens until ctx ends, then shuts down gracefully.
func (wm *WebMaster) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", wm.config.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: wm.router, ReadHeaderTimeout: 10 * time.Second}
	wm.mu.Lock()
	wm.server = srv
	wm.mu.Unlock()

	if wm.config.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		if err := wm.advertise(port); err != nil {
			slog.Warn("webservice: mDNS advertisement failed", "err", err)
		}
	}
	slog.Info("webservice: listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		wm.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wm.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close drops every WebSocket viewer and withdraws the advertisement. The
// agent belongs to the caller.
func (wm *WebMaster) Close() {
	wm.mu.Lock()
	sessions := wm.ScreenSessions
	wm.ScreenSessions = make(map[string]*ScreenSession)
	mdns := wm.mdns
	wm.mdns = nil
	wm.mu.Unlock()

	for id, s := range sessions {
		slog.Debug("webservice: closing viewer", "viewer", id)
		s.Close()
	}
	if mdns != nil {
		mdns.Shutdown()
	}
}
