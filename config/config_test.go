package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"spacescreen/sdriver/spacedesk/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, wire.DefaultPort, cfg.Server.Port)

	s := cfg.Server.Session()
	assert.EqualValues(t, 1920, s.Width)
	assert.EqualValues(t, 1080, s.Height)
	assert.EqualValues(t, 70, s.Quality)
	assert.Nil(t, s.Layout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spacescreen.yaml")
	yml := `
server:
  address: 192.168.1.20
  resolution: 1280x720
  quality: 90
  read_timeout: 250ms
  chunking: indexed
relay:
  listen: 127.0.0.1:9000
  advertise: true
  ice_servers: ["stun:stun.example.org:3478"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "192.168.1.20", cfg.Server.Address)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.IdleTimeout, "untouched keys keep defaults")
	assert.Equal(t, wire.DefaultPort, cfg.Server.Port)
	assert.True(t, cfg.Relay.Advertise)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.Relay.Agent().ICEServers)

	s := cfg.Server.Session()
	assert.EqualValues(t, 1280, s.Width)
	assert.Equal(t, wire.DefaultIndexedLayout, s.Layout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"quality zero", func(c *Config) { c.Server.Quality = 0 }},
		{"quality too high", func(c *Config) { c.Server.Quality = 101 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"resolution", func(c *Config) { c.Server.Resolution = "wide" }},
		{"negative timeout", func(c *Config) { c.Server.IdleTimeout = -time.Second }},
		{"chunking", func(c *Config) { c.Server.Chunking = "sliced" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestParseResolution(t *testing.T) {
	w, h, err := ParseResolution("1024x768")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, w)
	assert.EqualValues(t, 768, h)

	w, h, err = ParseResolution(" 2560X1440 ")
	require.NoError(t, err)
	assert.EqualValues(t, 2560, w)
	assert.EqualValues(t, 1440, h)

	for _, bad := range []string{"", "1024", "x768", "1024x", "0x768", "1023x768", "-2x4", "99999x2"} {
		_, _, err := ParseResolution(bad)
		assert.Error(t, err, bad)
	}
}
