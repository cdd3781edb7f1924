package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrFatal      = errors.New("signaling: fatal transport error")
	ErrLinkClosed = errors.New("signaling: link closed")
)

// TransportError means the relay could not be reached, or the link to it was
// lost, and retrying is over. It matches ErrFatal with errors.Is.
type TransportError struct {
	Err error
	Op  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("signaling: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrFatal
}
