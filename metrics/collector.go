// Package metrics exports session and relay statistics in the Prometheus
// text format. Values are read from the live objects at scrape time.
package metrics

import (
	"net/http"

	"spacescreen/sdriver/spacedesk"
	sagent "spacescreen/streamAgent"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spacescreen"

// SessionFunc returns the stats of the current session, false when there is
// none (between reconnects, for example).
type SessionFunc func() (spacedesk.Stats, bool)

// RelayFunc returns relay stats. It may be nil.
type RelayFunc func() sagent.Stats

// Collector is a prometheus.Collector over a session and a relay.
type Collector struct {
	session SessionFunc
	relay   RelayFunc

	up             *prometheus.Desc
	state          *prometheus.Desc
	width          *prometheus.Desc
	height         *prometheus.Desc
	bytesIn        *prometheus.Desc
	bytesOut       *prometheus.Desc
	messages       *prometheus.Desc
	frames         *prometheus.Desc
	droppedFrames  *prometheus.Desc
	resyncs        *prometheus.Desc
	discardedBytes *prometheus.Desc
	queueLen       *prometheus.Desc
	queueEvicted   *prometheus.Desc
	acks           *prometheus.Desc
	pings          *prometheus.Desc

	viewers     *prometheus.Desc
	peers       *prometheus.Desc
	relayIn     *prometheus.Desc
	relayOut    *prometheus.Desc
	viewerDrops *prometheus.Desc
	sessions    *prometheus.Desc
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func NewCollector(session SessionFunc, relay RelayFunc) *Collector {
	return &Collector{
		session: session,
		relay:   relay,

		up:             desc("session", "up", "1 while a spacedesk session exists"),
		state:          desc("session", "state", "Current session state, 1 for the active state", "state"),
		width:          desc("session", "width_pixels", "Stream width"),
		height:         desc("session", "height_pixels", "Stream height"),
		bytesIn:        desc("session", "received_bytes_total", "Bytes read from the server"),
		bytesOut:       desc("session", "sent_bytes_total", "Bytes written to the server"),
		messages:       desc("session", "messages_total", "Protocol messages decoded"),
		frames:         desc("session", "frames_total", "Complete frames reassembled"),
		droppedFrames:  desc("session", "dropped_frames_total", "Frames abandoned because chunks were missing"),
		resyncs:        desc("session", "resyncs_total", "Times the decoder searched for a new header"),
		discardedBytes: desc("session", "discarded_bytes_total", "Bytes skipped while resynchronising"),
		queueLen:       desc("session", "queue_frames", "Frames waiting for the consumer"),
		queueEvicted:   desc("session", "queue_evicted_total", "Frames evicted from a full queue"),
		acks:           desc("session", "acks_sent_total", "VIDEO_DATA_ACK messages sent"),
		pings:          desc("session", "pings_echoed_total", "PING messages echoed"),

		viewers:     desc("relay", "viewers", "Attached viewers, the WebRTC track included"),
		peers:       desc("relay", "webrtc_peers", "Connected WebRTC peers"),
		relayIn:     desc("relay", "frames_in_total", "Frames taken from the session"),
		relayOut:    desc("relay", "frames_out_total", "Frames handed to viewer mailboxes"),
		viewerDrops: desc("relay", "viewer_drops_total", "Frames skipped for viewers that fell behind"),
		sessions:    desc("relay", "sessions_total", "Sessions relayed since start"),
	}
}

var states = []spacedesk.State{
	spacedesk.Disconnected, spacedesk.Connecting, spacedesk.Negotiating, spacedesk.Streaming, spacedesk.Error,
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.state, c.width, c.height, c.bytesIn, c.bytesOut, c.messages, c.frames,
		c.droppedFrames, c.resyncs, c.discardedBytes, c.queueLen, c.queueEvicted, c.acks, c.pings,
		c.viewers, c.peers, c.relayIn, c.relayOut, c.viewerDrops, c.sessions,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	var st spacedesk.Stats
	ok := false
	if c.session != nil {
		st, ok = c.session()
	}
	if !ok {
		gauge(c.up, 0)
	} else {
		gauge(c.up, 1)
		for _, s := range states {
			v := 0.0
			if s.String() == st.State {
				v = 1
			}
			gauge(c.state, v, s.String())
		}
		gauge(c.width, float64(st.Meta.Width))
		gauge(c.height, float64(st.Meta.Height))
		counter(c.bytesIn, st.Transport.BytesIn)
		counter(c.bytesOut, st.Transport.BytesOut)
		counter(c.messages, st.Reassembly.Messages)
		counter(c.frames, st.Reassembly.Frames)
		counter(c.droppedFrames, st.Reassembly.DroppedFrames)
		counter(c.resyncs, st.Reassembly.Resyncs)
		counter(c.discardedBytes, st.Reassembly.DiscardedBytes)
		gauge(c.queueLen, float64(st.Queue.Len))
		counter(c.queueEvicted, st.Queue.Evicted)
		counter(c.acks, st.AcksSent)
		counter(c.pings, st.PingsSent)
	}

	if c.relay == nil {
		return
	}
	rs := c.relay()
	gauge(c.viewers, float64(rs.Viewers))
	gauge(c.peers, float64(rs.Peers))
	counter(c.relayIn, rs.FramesIn)
	counter(c.relayOut, rs.FramesOut)
	counter(c.viewerDrops, rs.ViewerDrops)
	counter(c.sessions, rs.Sessions)
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
