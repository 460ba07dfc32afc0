package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spacescreen/sdriver/spacedesk"
	"spacescreen/sdriver/spacedesk/wire"
	sagent "spacescreen/streamAgent"

	"gopkg.in/yaml.v3"
)

// Config is the complete spacescreen configuration. Command line flags
// override what the file sets.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Relay  RelayConfig  `yaml:"relay" json:"relay"`
	Debug  bool         `yaml:"debug" json:"debug"`
}

// ServerConfig describes the spacedesk server and what to ask it for.
type ServerConfig struct {
	Address    string `yaml:"address" json:"address"`
	Port       int    `yaml:"port" json:"port"`
	Resolution string `yaml:"resolution" json:"resolution"` // WxH
	Quality    int    `yaml:"quality" json:"quality"`       // 1..100
	Hostname   string `yaml:"hostname" json:"hostname"`     // identification override

	ConnectTimeout   time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout" json:"read_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	QueueCapacity    int           `yaml:"queue_capacity" json:"queue_capacity"`
	// Chunking selects the VIDEO_DATA layout: "whole" or "indexed".
	Chunking string `yaml:"chunking" json:"chunking"`

	Reconnect    bool          `yaml:"reconnect" json:"reconnect"`
	MaxReconnect time.Duration `yaml:"max_reconnect" json:"max_reconnect"` // total retry budget, 0 = forever
}

// RelayConfig drives the HTTP relay used by the view command.
type RelayConfig struct {
	Listen        string        `yaml:"listen" json:"listen"`
	Advertise     bool          `yaml:"advertise" json:"advertise"`
	InstanceName  string        `yaml:"instance_name" json:"instance_name"`
	MailboxSize   int           `yaml:"mailbox_size" json:"mailbox_size"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ICEServers    []string      `yaml:"ice_servers" json:"ice_servers"`
	BandwidthKbps int           `yaml:"bandwidth_kbps" json:"bandwidth_kbps"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             wire.DefaultPort,
			Resolution:       "1920x1080",
			Quality:          70,
			ConnectTimeout:   5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			IdleTimeout:      5 * time.Second,
			QueueCapacity:    50,
			Chunking:         "whole",
		},
		Relay: RelayConfig{
			Listen:        ":8079",
			InstanceName:  "spacescreen",
			MailboxSize:   sagent.DefaultMailboxSize,
			PollInterval:  sagent.DefaultPollInterval,
			BandwidthKbps: 20000,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var ErrInvalid = errors.New("config: invalid")

// Validate checks the values a session cannot start without. The server
// address is checked separately since some commands do not need one.
func (c *Config) Validate() error {
	var errs []error
	s := c.Server
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.Quality < 1 || s.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality %d not in 1..100", s.Quality))
	}
	if _, _, err := ParseResolution(s.Resolution); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":   s.ConnectTimeout,
		"handshake_timeout": s.HandshakeTimeout,
		"read_timeout":      s.ReadTimeout,
		"idle_timeout":      s.IdleTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s is negative", name))
		}
	}
	if s.Chunking != "whole" && s.Chunking != "indexed" {
		errs = append(errs, fmt.Errorf("chunking %q is neither whole nor indexed", s.Chunking))
	}
	if c.Relay.MailboxSize < 0 {
		errs = append(errs, fmt.Errorf("mailbox_size %d is negative", c.Relay.MailboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseResolution reads "WxH". Both sides must be positive and even, which
// is what H.264 encoders accept with 4:2:0 chroma.
func ParseResolution(s string) (uint32, uint32, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q is not WxH", s)
	}
	w, err := strconv.ParseUint(ws, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: width: %w", s, err)
	}
	h, err := strconv.ParseUint(hs, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: height: %w", s, err)
	}
	if w == 0 || h == 0 || w%2 != 0 || h%2 != 0 {
		return 0, 0, fmt.Errorf("resolution %q must be positive and even", s)
	}
	return uint32(w), uint32(h), nil
}

// Session converts the server section into a driver configuration.
// Validate first; an unparsable resolution yields 0x0.
func (s ServerConfig) Session() spacedesk.Config {
	w, h, _ := ParseResolution(s.Resolution)
	cfg := spacedesk.Config{
		Address:          s.Address,
		Port:             s.Port,
		Width:            w,
		Height:           h,
		Quality:          uint32(s.Quality),
		Hostname:         s.Hostname,
		ConnectTimeout:   s.ConnectTimeout,
		HandshakeTimeout: s.HandshakeTimeout,
		ReadTimeout:      s.ReadTimeout,
		IdleTimeout:      s.IdleTimeout,
		QueueCapacity:    s.QueueCapacity,
	}
	if s.Chunking == "indexed" {
		cfg.Layout = wire.DefaultIndexedLayout
	}
	return cfg
}

func (r RelayConfig) Agent() sagent.AgentConfig {
	return sagent.AgentConfig{
		MailboxSize:   r.MailboxSize,
		PollInterval:  r.PollInterval,
		ICEServers:    r.ICEServers,
		BandwidthKbps: r.BandwidthKbps,
	}
}
