package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	recvBuffer   = 256
	writeTimeout = 10 * time.Second
)

// Link is an ordered, message-oriented connection to the relay.
type Link interface {
	Send(ctx context.Context, env protocol.Envelope) error
	// Recv yields incoming envelopes in arrival order. It is closed when the
	// link ends; Err then tells whether the link was lost.
	Recv() <-chan protocol.Envelope
	Err() error
	Close() error
}

// Conn reads and writes whole envelopes on one network connection. Writes may
// be called concurrently with reads but not with each other.
type Conn interface {
	ReadEnvelope() (protocol.Envelope, error)
	WriteEnvelope(env protocol.Envelope, deadline time.Time) error
	Close() error
}

type pinger interface {
	Ping(deadline time.Time) error
}

type streamLink struct {
	conn   Conn
	done   chan struct{}
	logger *logrus.Logger
	recv   chan protocol.Envelope

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
	err       error
}

// NewLink starts reading from c. The returned link owns c.
func NewLink(c Conn, logger *logrus.Logger) Link {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	l := &streamLink{
		conn:   c,
		done:   make(chan struct{}),
		logger: logger,
		recv:   make(chan protocol.Envelope, recvBuffer),
	}

	go l.readLoop()
	if p, ok := c.(pinger); ok {
		go l.pingLoop(p)
	}
	return l
}

func (l *streamLink) readLoop() {
	defer close(l.recv)

	for {
		env, err := l.conn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				l.logger.Warnf("Dropping envelope from relay: %v", err)
				continue
			}
			l.mu.Lock()
			if !l.closed {
				l.err = &TransportError{Err: err, Op: "read"}
			}
			l.mu.Unlock()
			return
		}

		select {
		case l.recv <- env:
		case <-l.done:
			return
		}
	}
}

func (l *streamLink) pingLoop(p pinger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := p.Ping(time.Now().Add(writeTimeout)); err != nil {
				l.logger.Debugf("Relay ping failed: %v", err)
				return
			}
		}
	}
}

func (l *streamLink) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := l.conn.WriteEnvelope(env, deadline); err != nil {
		return &TransportError{Err: err, Op: "send " + string(env.Kind)}
	}
	return nil
}

func (l *streamLink) Recv() <-chan protocol.Envelope {
	return l.recv
}

func (l *streamLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *streamLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
