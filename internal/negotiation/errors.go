package negotiation

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	NoLocalCapability ErrorKind = iota + 1
	MalformedDescription
	GlareDetected
)

func (k ErrorKind) String() string {
	switch k {
	case NoLocalCapability:
		return "no local capability"
	case MalformedDescription:
		return "malformed description"
	case GlareDetected:
		return "glare detected"
	default:
		return "unknown"
	}
}

// Error is a negotiation failure. Match a kind with errors.Is against the
// Err* sentinels below.
type Error struct {
	Err  error
	Kind ErrorKind
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiation: %s: %v", e.Kind, e.Err)
	}
	return "negotiation: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrGlareDetected        = &Error{Kind: GlareDetected}
	ErrMalformedDescription = &Error{Kind: MalformedDescription}
	ErrNoLocalCapability    = &Error{Kind: NoLocalCapability}

	ErrInvalidState  = errors.New("negotiation: operation not valid in current state")
	ErrSessionClosed = errors.New("negotiation: session closed")
)
