package negotiate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spacescreen/sdriver/spacedesk/transport"
	"spacescreen/sdriver/spacedesk/wire"
)

// ReadWriter is the part of a transport connection the handshake needs.
type ReadWriter interface {
	Read(max int, timeout time.Duration) ([]byte, error)
	Write(b []byte) error
}

// Request holds what the client asks for.
type Request struct {
	Width    uint32
	Height   uint32
	Quality  uint32
	Hostname string
}

type Options struct {
	// StepTimeout bounds every wait for a server reply.
	StepTimeout time.Duration
	ReadSize    int
}

func (o *Options) withDefaults() {
	if o.StepTimeout <= 0 {
		o.StepTimeout = 5 * time.Second
	}
	if o.ReadSize <= 0 {
		o.ReadSize = 64 << 10
	}
}

// Session is the outcome of a successful handshake. Width, Height, Quality
// and Revision are what the server granted and override the request.
type Session struct {
	Width    uint32
	Height   uint32
	Quality  uint32
	Revision uint32

	// Clamped is set when the server granted something other than the request.
	Clamped bool
	// Implicit is set when the server went straight to video without a reply.
	Implicit bool
	// Offer is the server's CONNECTION_START, zero when Implicit.
	Offer wire.ConnectionStart
	// Pending holds stream bytes already read past the handshake.
	Pending []byte
}

type Negotiator struct {
	rw    ReadWriter
	opts  Options
	phase Phase
	trace []Phase
	buf   []byte
}

func New(rw ReadWriter, opts Options) *Negotiator {
	opts.withDefaults()
	return &Negotiator{rw: rw, opts: opts}
}

// Negotiate runs a complete handshake over rw.
func Negotiate(ctx context.Context, rw ReadWriter, req Request, opts Options) (*Session, error) {
	return New(rw, opts).Run(ctx, req)
}

func (n *Negotiator) Phase() Phase { return n.phase }

// Trace lists every phase entered so far, in order.
func (n *Negotiator) Trace() []Phase { return append([]Phase(nil), n.trace...) }

func (n *Negotiator) enter(p Phase) {
	n.phase = p
	n.trace = append(n.trace, p)
	slog.Debug("negotiate: phase", "phase", p.String())
}

func (n *Negotiator) fail(reason Reason, err error) *NegotiationError {
	ne := &NegotiationError{Phase: n.phase, Reason: reason, Err: err}
	n.enter(Failed)
	return ne
}

func (n *Negotiator) Run(ctx context.Context, req Request) (*Session, error) {
	n.enter(Start)
	hello := wire.DefaultConnectionStart(req.Width, req.Height, req.Quality, req.Hostname)
	if err := n.rw.Write(wire.Encode(wire.NewConnectionStart(hello))); err != nil {
		return nil, n.fail(ReasonIO, err)
	}
	n.enter(HelloSent)

	deadline := time.Now().Add(n.opts.StepTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, n.fail(ReasonCanceled, err)
		}

		m, used, err := wire.Decode(n.buf)
		if errors.Is(err, wire.ErrNeedMoreData) {
			if err := n.fill(deadline); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, n.fail(ReasonMalformed, err)
		}

		switch m.Type {
		case wire.TypeConnectionStart:
			n.buf = n.buf[used:]
			offer, err := wire.ParseConnectionStart(m)
			if err != nil {
				return nil, n.fail(ReasonMalformed, err)
			}
			n.enter(CapabilityReceived)
			// The hello already carried the resolution request.
			n.enter(ResolutionRequested)
			s := grant(req, hello.Revision, offer)
			s.Pending = n.buf
			n.enter(Ready)
			return s, nil

		case wire.TypeVideoData:
			slog.Debug("negotiate: video before reply, accepting requested parameters")
			n.enter(CapabilityReceived)
			n.enter(ResolutionRequested)
			s := &Session{
				Width:    req.Width,
				Height:   req.Height,
				Quality:  req.Quality,
				Revision: hello.Revision,
				Implicit: true,
				Pending:  n.buf,
			}
			n.enter(Ready)
			return s, nil

		case wire.TypePing:
			n.buf = n.buf[used:]
			if err := n.rw.Write(wire.Encode(m)); err != nil {
				return nil, n.fail(ReasonIO, err)
			}

		case wire.TypeDisconnect:
			return nil, n.fail(ReasonRejected, ErrRejected)

		default:
			slog.Debug("negotiate: skipping message", "type", m.Type.String())
			n.buf = n.buf[used:]
		}
	}
}

// fill reads more bytes, bounded by the step deadline.
func (n *Negotiator) fill(deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return n.fail(ReasonTimeout, transport.ErrTimedOut)
	}
	p, err := n.rw.Read(n.opts.ReadSize, remaining)
	switch {
	case err == nil:
		n.buf = append(n.buf, p...)
		return nil
	case errors.Is(err, transport.ErrTimedOut):
		return n.fail(ReasonTimeout, err)
	case errors.Is(err, transport.ErrClosed):
		return n.fail(ReasonClosed, err)
	default:
		return n.fail(ReasonIO, err)
	}
}

func grant(req Request, revision uint32, offer wire.ConnectionStart) *Session {
	s := &Session{
		Width:    pick(offer.Width, req.Width),
		Height:   pick(offer.Height, req.Height),
		Quality:  pick(offer.Quality, req.Quality),
		Revision: pick(offer.Revision, revision),
		Offer:    offer,
	}
	s.Clamped = s.Width != req.Width || s.Height != req.Height || s.Quality != req.Quality
	return s
}

// pick prefers the server's value unless it left the field empty.
func pick(server, requested uint32) uint32 {
	if server != 0 {
		return server
	}
	return requested
}
