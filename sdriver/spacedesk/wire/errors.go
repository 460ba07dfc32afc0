package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData means the buffer holds a valid prefix of a message.
	ErrNeedMoreData = errors.New("wire: need more data")
	// ErrMalformed is matched by every *MalformedError.
	ErrMalformed = errors.New("wire: malformed message")
)

type MalformedError struct {
	Type   PacketType
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("wire: malformed %s: %s", e.Type, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

func malformed(t PacketType, format string, args ...any) error {
	return &MalformedError{Type: t, Reason: fmt.Sprintf(format, args...)}
}
