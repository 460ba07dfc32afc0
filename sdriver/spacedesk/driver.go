package spacedesk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk/delivery"
	"spacescreen/sdriver/spacedesk/negotiate"
	"spacescreen/sdriver/spacedesk/reassembly"
	"spacescreen/sdriver/spacedesk/transport"
	"spacescreen/sdriver/spacedesk/wire"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("spacescreen/sdriver/spacedesk")

// Params are fixed once negotiation succeeds. Width, Height and Quality are
// what the server granted.
type Params struct {
	RequestedWidth   uint32 `json:"requested_width"`
	RequestedHeight  uint32 `json:"requested_height"`
	RequestedQuality uint32 `json:"requested_quality"`
	Width            uint32 `json:"width"`
	Height           uint32 `json:"height"`
	Quality          uint32 `json:"quality"`
	ProtocolRevision uint32 `json:"protocol_revision"`
	Clamped          bool   `json:"clamped"`
}

type Stats struct {
	State      string            `json:"state"`
	Reassembly reassembly.Stats  `json:"reassembly"`
	Queue      delivery.Stats    `json:"queue"`
	Transport  transport.Stats   `json:"transport"`
	AcksSent   uint64            `json:"acks_sent"`
	PingsSent  uint64            `json:"pings_echoed"`
	Meta       sdriver.MediaMeta `json:"media_meta"`
}

// Driver owns one spacedesk session: the socket, the handshake, the receive
// loop and the frame queue. It implements sdriver.FrameSource. Drivers share
// nothing, so several can run in one process.
type Driver struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   State
	err     error
	params  Params
	meta    sdriver.MediaMeta
	conn    *transport.Conn
	cancel  context.CancelFunc
	started bool
	stopped bool

	queue  *delivery.Queue[sdriver.VideoFrame]
	reasm  *reassembly.Reassembler
	events chan sdriver.Event
	done   chan struct{}

	stopOnce sync.Once
	acks     atomic.Uint64
	pings    atomic.Uint64
}

func New(cfg Config) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:    cfg,
		log:    slog.With("server", cfg.Address, "port", cfg.Port),
		queue:  delivery.New[sdriver.VideoFrame](cfg.QueueCapacity),
		reasm:  reassembly.New(cfg.Layout, reassembly.Options{}),
		events: make(chan sdriver.Event, 16),
		done:   make(chan struct{}),
		meta:   sdriver.MediaMeta{VideoCodecID: "h264", Width: int(cfg.Width), Height: int(cfg.Height), FPS: 60},
	}
}

// Start connects, negotiates and launches the receive loop. ctx bounds the
// start only; the session then lives until Stop or a fatal error. Failures
// are *ConnectionError or *NegotiationError.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.started = true
	life, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	sctx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	stopWatch := context.AfterFunc(life, cancelStart)
	defer stopWatch()

	d.setState(Connecting, nil)
	conn, err := d.connect(sctx)
	if err != nil {
		d.fail(err)
		close(d.done)
		return err
	}

	d.setState(Negotiating, nil)
	sess, err := d.negotiate(sctx, conn)
	if err != nil {
		conn.Close()
		d.fail(err)
		close(d.done)
		return err
	}

	d.mu.Lock()
	d.params = Params{
		RequestedWidth:   d.cfg.Width,
		RequestedHeight:  d.cfg.Height,
		RequestedQuality: d.cfg.Quality,
		Width:            sess.Width,
		Height:           sess.Height,
		Quality:          sess.Quality,
		ProtocolRevision: sess.Revision,
		Clamped:          sess.Clamped,
	}
	d.meta.Width, d.meta.Height = int(sess.Width), int(sess.Height)
	meta := d.meta
	d.mu.Unlock()
	sdriver.TrySend(d.events, sdriver.NewMediaMetaEvent(meta))

	d.log.Info("spacedesk: streaming",
		"width", sess.Width, "height", sess.Height, "quality", sess.Quality,
		"revision", sess.Revision, "clamped", sess.Clamped)
	d.setState(Streaming, nil)
	go d.receive(conn, sess.Pending)
	return nil
}

func (d *Driver) connect(ctx context.Context) (*transport.Conn, error) {
	ctx, span := tracer.Start(ctx, "spacedesk.connect", trace.WithAttributes(
		attribute.String("server.address", d.cfg.Address),
		attribute.Int("server.port", d.cfg.Port),
	))
	defer span.End()

	d.log.Info("spacedesk: connecting")
	conn, err := transport.Dial(ctx, d.cfg.Address, d.cfg.Port, d.cfg.ConnectTimeout)
	if err != nil {
		err = &ConnectionError{Op: "connect", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		conn.Close()
		return nil, &ConnectionError{Op: "connect", Err: ErrStopped}
	}
	d.conn = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *Driver) negotiate(ctx context.Context, conn *transport.Conn) (*negotiate.Session, error) {
	ctx, span := tracer.Start(ctx, "spacedesk.negotiate", trace.WithAttributes(
		attribute.Int("request.width", int(d.cfg.Width)),
		attribute.Int("request.height", int(d.cfg.Height)),
		attribute.Int("request.quality", int(d.cfg.Quality)),
	))
	defer span.End()

	// a cancelled start must not leave the handshake blocked in a read
	unblock := context.AfterFunc(ctx, func() { conn.Close() })
	defer unblock()

	sess, err := negotiate.Negotiate(ctx, conn, negotiate.Request{
		Width:    d.cfg.Width,
		Height:   d.cfg.Height,
		Quality:  d.cfg.Quality,
		Hostname: d.cfg.Hostname,
	}, negotiate.Options{StepTimeout: d.cfg.HandshakeTimeout, ReadSize: d.cfg.ReadSize})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("granted.width", int(sess.Width)),
		attribute.Int("granted.height", int(sess.Height)),
		attribute.Int("granted.quality", int(sess.Quality)),
	)
	return sess, nil
}

// NextFrame hands out the oldest queued frame. It returns sdriver.ErrEmpty
// when nothing arrived within timeout and sdriver.ErrClosed once the session
// has ended and the queue is drained.
func (d *Driver) NextFrame(timeout time.Duration) (sdriver.VideoFrame, error) {
	return d.queue.Pop(timeout)
}

// Stop ends the session from any state. It is idempotent and safe to call
// from any goroutine.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		conn, cancel, started, state := d.conn, d.cancel, d.started, d.state
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			if state == Streaming || state == Negotiating {
				// a receive loop stuck on an ack holds the socket; closing it frees both
				if err := conn.TryWrite(wire.Encode(wire.NewDisconnect()), d.cfg.ReadTimeout); err != nil {
					d.log.Debug("spacedesk: disconnect not sent", "err", err)
				}
			}
			conn.Close()
		}
		if started {
			<-d.done
		}
		d.queue.Close()
		d.queue.Discard()
		d.setState(Disconnected, nil)
		d.log.Info("spacedesk: stopped")
	})
}

// Done is closed when the receive loop exits or Start fails.
func (d *Driver) Done() <-chan struct{} { return d.done }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err is the reason the session ended, nil while it is healthy.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Driver) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

func (d *Driver) MediaMeta() sdriver.MediaMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta
}

func (d *Driver) Events() <-chan sdriver.Event { return d.events }

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	conn, state, meta := d.conn, d.state, d.meta
	d.mu.Unlock()

	st := Stats{
		State:      state.String(),
		Reassembly: d.reasm.Stats(),
		Queue:      d.queue.Stats(),
		AcksSent:   d.acks.Load(),
		PingsSent:  d.pings.Load(),
		Meta:       meta,
	}
	if conn != nil {
		st.Transport = conn.Stats()
	}
	return st
}

func (d *Driver) setState(s State, err error) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	if err != nil {
		d.err = err
	}
	d.mu.Unlock()
	if prev == s {
		return
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	d.log.Debug("spacedesk: state", "from", prev.String(), "to", s.String())
	sdriver.TrySend(d.events, sdriver.NewStateEvent(s.String(), reason))
}

// fail records a terminal error. Frames already queued stay drainable.
func (d *Driver) fail(err error) {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		d.log.Error("spacedesk: negotiation failed", "phase", ne.Phase.String(), "reason", string(ne.Reason), "err", ne.Err)
	} else {
		d.log.Error("spacedesk: session failed", "err", err)
	}
	d.setState(Error, err)
	d.queue.Close()
}

var _ sdriver.FrameSource = (*Driver)(nil)
