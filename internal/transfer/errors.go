package transfer

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	ChannelNotReady ErrorKind = iota + 1
	EmptyPayload
	ChannelClosedDuringTransfer
	UnexpectedDataAfterCompletion
	PayloadOverrun
	ChecksumMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ChannelNotReady:
		return "channel not ready"
	case EmptyPayload:
		return "empty payload"
	case ChannelClosedDuringTransfer:
		return "channel closed during transfer"
	case UnexpectedDataAfterCompletion:
		return "unexpected data after completion"
	case PayloadOverrun:
		return "payload overrun"
	case ChecksumMismatch:
		return "checksum mismatch"
	default:
		return "unknown"
	}
}

// Error is returned for transfer failures. Match a kind with errors.Is
// against the Err* sentinels.
type Error struct {
	Err  error
	Kind ErrorKind
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer: %s: %v", e.Kind, e.Err)
	}
	return "transfer: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrChannelClosedDuringTransfer   = &Error{Kind: ChannelClosedDuringTransfer}
	ErrChecksumMismatch              = &Error{Kind: ChecksumMismatch}
	ErrChannelNotReady               = &Error{Kind: ChannelNotReady}
	ErrEmptyPayload                  = &Error{Kind: EmptyPayload}
	ErrPayloadOverrun                = &Error{Kind: PayloadOverrun}
	ErrUnexpectedDataAfterCompletion = &Error{Kind: UnexpectedDataAfterCompletion}

	ErrAborted        = errors.New("transfer: aborted")
	ErrAlreadyStarted = errors.New("transfer: already started")
	ErrSizeMismatch   = errors.New("transfer: size already set to a different value")
)
