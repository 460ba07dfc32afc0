package spacedesk

import (
	"os"
	"time"

	"spacescreen/sdriver/spacedesk/delivery"
	"spacescreen/sdriver/spacedesk/wire"
)

// Config is supplied once per session.
type Config struct {
	Address string
	Port    int

	Width   uint32
	Height  uint32
	Quality uint32 // 1..100

	// Hostname feeds the identification string. Defaults to os.Hostname.
	Hostname string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds every streaming read.
	ReadTimeout time.Duration
	// IdleTimeout is how long the server may stay silent while streaming
	// before the link is declared dead.
	IdleTimeout time.Duration

	QueueCapacity int
	ReadSize      int
	Layout        wire.ChunkLayout
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = wire.DefaultPort
	}
	if c.Quality == 0 {
		c.Quality = 100
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Second
	}
	if c.IdleTimeout < c.ReadTimeout {
		c.IdleTimeout = c.ReadTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = delivery.DefaultCapacity
	}
	if c.ReadSize <= 0 {
		c.ReadSize = 256 << 10
	}
	if c.Layout == nil {
		c.Layout = wire.WholeFrameLayout{}
	}
	return c
}
