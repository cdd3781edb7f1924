package transfer

import (
	"context"
	"sync"
)

type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Channel is a message-oriented duplex channel with a hard message size, no
// flow control of its own and ordering only within the channel. The On*
// methods return a function that removes the handler.
type Channel interface {
	Label() string
	Direction() Direction
	ReadyState() ReadyState
	Send(data []byte) error
	Close() error

	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)

	OnOpen(fn func()) func()
	OnClose(fn func()) func()
	OnMessage(fn func(data []byte)) func()
	OnBufferedAmountLow(fn func()) func()
}

// WaitOpen blocks until ch is open, closed or ctx is done.
func WaitOpen(ctx context.Context, ch Channel) error {
	opened := make(chan struct{})
	closed := make(chan struct{})
	var openOnce, closeOnce sync.Once

	cancelOpen := ch.OnOpen(func() { openOnce.Do(func() { close(opened) }) })
	defer cancelOpen()
	cancelClose := ch.OnClose(func() { closeOnce.Do(func() { close(closed) }) })
	defer cancelClose()

	switch ch.ReadyState() {
	case StateOpen:
		return nil
	case StateClosing, StateClosed:
		return ErrChannelNotReady
	}

	select {
	case <-opened:
		return nil
	case <-closed:
		return ErrChannelNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}
