package negotiate

import (
	"errors"
	"fmt"
)

type Phase int

const (
	Start Phase = iota
	HelloSent
	CapabilityReceived
	ResolutionRequested
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case Start:
		return "start"
	case HelloSent:
		return "hello-sent"
	case CapabilityReceived:
		return "capability-received"
	case ResolutionRequested:
		return "resolution-requested"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonRejected  Reason = "rejected"
	ReasonMalformed Reason = "malformed"
	ReasonClosed    Reason = "closed"
	ReasonIO        Reason = "io"
	ReasonCanceled  Reason = "canceled"
)

var ErrRejected = errors.New("negotiate: server rejected the session")

// NegotiationError ends a handshake. Phase is where it stopped.
type NegotiationError struct {
	Phase  Phase
	Reason Reason
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiate: %s in phase %s: %v", e.Reason, e.Phase, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
