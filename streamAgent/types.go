package sagent

import "time"

const (
	DefaultMailboxSize  = 30
	DefaultPollInterval = 200 * time.Millisecond
	// frame duration used when arrival times give nothing better (60 fps)
	defaultFrameDuration = time.Second / 60
)

type AgentConfig struct {
	// MailboxSize is the number of frames a viewer may fall behind before
	// it is cut back to the next keyframe.
	MailboxSize  int           `json:"mailbox_size" yaml:"mailbox_size"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	// ICEServers are handed to every WebRTC peer. Empty means host
	// candidates only.
	ICEServers []string `json:"ice_servers" yaml:"ice_servers"`
	// BandwidthKbps, when > 0, is written into the answer as b=AS.
	BandwidthKbps int `json:"bandwidth_kbps" yaml:"bandwidth_kbps"`
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

type Stats struct {
	Viewers        int    `json:"viewers"`
	Peers          int    `json:"peers"`
	FramesIn       uint64 `json:"frames_in"`
	KeyFramesIn    uint64 `json:"key_frames_in"`
	FramesOut      uint64 `json:"frames_out"`
	ViewerDrops    uint64 `json:"viewer_drops"`
	KeyFrameReplay uint64 `json:"key_frame_replays"`
	Sessions       uint64 `json:"sessions"`
}
