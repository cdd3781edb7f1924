package signaling

import (
	"context"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

type pipeLink struct {
	done chan struct{}
	once sync.Once
	peer *pipeLink
	recv chan protocol.Envelope

	mu     sync.RWMutex
	closed bool
}

// Pipe returns two links connected to each other in memory. Envelopes are
// delivered unchanged; nothing fills in From.
func Pipe() (Link, Link) {
	a := &pipeLink{done: make(chan struct{}), recv: make(chan protocol.Envelope, recvBuffer)}
	b := &pipeLink{done: make(chan struct{}), recv: make(chan protocol.Envelope, recvBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

func (l *pipeLink) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	p := l.peer
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrLinkClosed
	}

	select {
	case p.recv <- env:
		return nil
	case <-p.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *pipeLink) Recv() <-chan protocol.Envelope {
	return l.recv
}

func (l *pipeLink) Err() error {
	return nil
}

// Close ends both directions for this end. The peer's Recv stays open until
// the peer closes too.
func (l *pipeLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.closed = true
		close(l.recv)
		l.mu.Unlock()
	})
	return nil
}
