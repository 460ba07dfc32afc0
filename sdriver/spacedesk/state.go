package spacedesk

import (
	"errors"
	"fmt"

	"spacescreen/sdriver/spacedesk/negotiate"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Negotiating
	Streaming
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Streaming:
		return "streaming"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrAlreadyStarted   = errors.New("spacedesk: session already started")
	ErrStopped          = errors.New("spacedesk: session stopped")
	ErrLinkDead         = errors.New("spacedesk: no data from server")
	ErrPeerClosed       = errors.New("spacedesk: server closed the connection")
	ErrServerDisconnect = errors.New("spacedesk: server ended the session")
)

// ConnectionError ends a session because the TCP link could not be
// established or kept.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("spacedesk: connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type NegotiationError = negotiate.NegotiationError
