package sagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spacescreen/sdriver"
	"spacescreen/streamAgent/webrtcHelper"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrAgentClosed = errors.New("sagent: agent closed")

// Agent relays one frame source at a time to any number of viewers. It is
// the single consumer of the source's NextFrame; browsers read from their
// own mailboxes or from the shared WebRTC track.
type Agent struct {
	VideoTrack *webrtc.TrackLocalStaticSample

	cfg AgentConfig
	hub *hub

	mu    sync.Mutex
	src   sdriver.FrameSource
	meta  sdriver.MediaMeta
	peers map[*webrtc.PeerConnection]struct{}

	trackOnce   sync.Once
	trackViewer *Viewer

	sessions  atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	cfg = cfg.withDefaults()
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		generateStreamID(),
	)
	if err != nil {
		return nil, err
	}
	return &Agent{
		VideoTrack: videoTrack,
		cfg:        cfg,
		hub:        newHub(cfg.MailboxSize),
		peers:      make(map[*webrtc.PeerConnection]struct{}),
		meta:       sdriver.MediaMeta{VideoCodecID: "h264"},
		done:       make(chan struct{}),
	}, nil
}

// Run pumps src into the viewers until the source closes (nil), ctx ends
// or the agent is closed. Run may be called again with a new source after
// it returns; viewers stay attached across sessions.
func (sa *Agent) Run(ctx context.Context, src sdriver.FrameSource) error {
	sa.mu.Lock()
	select {
	case <-sa.done:
		sa.mu.Unlock()
		return ErrAgentClosed
	default:
	}
	sa.src = src
	sa.meta = src.MediaMeta()
	sa.mu.Unlock()
	defer func() {
		sa.mu.Lock()
		sa.src = nil
		sa.mu.Unlock()
	}()

	sa.sessions.Add(1)
	sa.hub.reset()
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sa.done:
			return ErrAgentClosed
		default:
		}
		sa.drainEvents(events)

		f, err := src.NextFrame(sa.cfg.PollInterval)
		switch {
		case err == nil:
			sa.hub.broadcast(f)
		case errors.Is(err, sdriver.ErrEmpty):
		case errors.Is(err, sdriver.ErrClosed):
			sa.drainEvents(events)
			slog.Info("sagent: source closed")
			return nil
		default:
			return err
		}
	}
}

func (sa *Agent) drainEvents(events <-chan sdriver.Event) {
	for {
		select {
		case e := <-events:
			if e.Meta != nil {
				sa.mu.Lock()
				sa.meta = *e.Meta
				sa.mu.Unlock()
			}
			sa.hub.publish(e)
		default:
			return
		}
	}
}

// Subscribe attaches a new viewer. Call Unsubscribe when it leaves.
func (sa *Agent) Subscribe() *Viewer {
	v := sa.hub.add()
	slog.Debug("sagent: viewer joined", "viewer", v.ID)
	return v
}

func (sa *Agent) Unsubscribe(v *Viewer) {
	sa.hub.remove(v)
	slog.Debug("sagent: viewer left", "viewer", v.ID, "dropped", v.Dropped())
}

// CreateWebRTCConnection answers a browser offer. All peers share the
// agent's video track.
func (sa *Agent) CreateWebRTCConnection(offer string) (string, error) {
	select {
	case <-sa.done:
		return "", ErrAgentClosed
	default:
	}
	sa.trackOnce.Do(func() {
		sa.trackViewer = sa.hub.add()
		go sa.StreamingVideo(sa.trackViewer)
	})

	answer, pc, sender, err := webrtcHelper.HandleSDP(offer, sa.VideoTrack, sa.cfg.ICEServers)
	if err != nil {
		return "", err
	}
	if sa.cfg.BandwidthKbps > 0 {
		answer = webrtcHelper.SetSDPBandwidth(answer, sa.cfg.BandwidthKbps)
	}

	sa.mu.Lock()
	sa.peers[pc] = struct{}{}
	sa.mu.Unlock()
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		slog.Info("sagent: peer state", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			sa.mu.Lock()
			delete(sa.peers, pc)
			sa.mu.Unlock()
			pc.Close()
		}
	})
	go sa.HandleRTCP(sender)
	// a new peer needs a keyframe to start decoding
	sa.hub.replayKey(sa.trackViewer)
	return answer, nil
}

// StreamingVideo writes v's frames to the shared track. Sample durations
// follow arrival times since the protocol carries no timestamps.
func (sa *Agent) StreamingVideo(v *Viewer) {
	var last time.Time
	for {
		f, err := v.Next(sa.cfg.PollInterval)
		if errors.Is(err, sdriver.ErrEmpty) {
			continue
		}
		if err != nil {
			return
		}

		duration := defaultFrameDuration
		if !last.IsZero() {
			if delta := f.ArrivedAt.Sub(last); delta > 0 && delta < time.Second {
				duration = delta
			}
		}
		last = f.ArrivedAt

		sample := media.Sample{
			Data:      f.Data,
			Duration:  duration,
			Timestamp: f.ArrivedAt,
		}
		if err := sa.VideoTrack.WriteSample(sample); err != nil {
			slog.Debug("sagent: write sample", "err", err)
		}
	}
}

func (sa *Agent) MediaMeta() sdriver.MediaMeta {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.meta
}

// Attached reports whether a source is currently being relayed.
func (sa *Agent) Attached() bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.src != nil
}

func (sa *Agent) Stats() Stats {
	sa.mu.Lock()
	peers := len(sa.peers)
	sa.mu.Unlock()
	return Stats{
		Viewers:        sa.hub.count(),
		Peers:          peers,
		FramesIn:       sa.hub.framesIn.Load(),
		KeyFramesIn:    sa.hub.keysIn.Load(),
		FramesOut:      sa.hub.framesOut.Load(),
		ViewerDrops:    sa.hub.drops.Load(),
		KeyFrameReplay: sa.hub.replays.Load(),
		Sessions:       sa.sessions.Load(),
	}
}

// Close detaches every viewer and peer. The current source is left to its
// owner.
func (sa *Agent) Close() {
	sa.closeOnce.Do(func() {
		close(sa.done)
		sa.hub.close()
		sa.mu.Lock()
		peers := sa.peers
		sa.peers = make(map[*webrtc.PeerConnection]struct{})
		sa.mu.Unlock()
		for pc := range peers {
			pc.Close()
		}
	})
}

func generateStreamID() string {
	return "spacescreen-" + uuid.NewString()[:8]
}
