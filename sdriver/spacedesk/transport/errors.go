package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnect  = errors.New("transport: connect failed")
	ErrTimedOut = errors.New("transport: read timed out")
	ErrClosed   = errors.New("transport: connection closed")
	// ErrBusy means another write held the connection.
	ErrBusy     = errors.New("transport: write in progress")
)

// ConnectError reports a failed dial. errors.Is(err, ErrConnect) holds.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnect, e.Err} }

type ReadError struct{ Err error }

func (e *ReadError) Error() string { return "transport: read: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

type WriteError struct{ Err error }

func (e *WriteError) Error() string { return "transport: write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }
