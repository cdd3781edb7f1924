// Package transfertest provides an in-memory transfer.Channel pair.
package transfertest

import (
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

var ErrClosed = errors.New("transfertest: channel closed")

const queueSize = 4096

// Channel is one end of a Pipe. Messages are delivered asynchronously and in
// order; BufferedAmount counts bytes sent but not yet delivered.
type Channel struct {
	dir   transfer.Direction
	label string
	peer  *Channel
	queue chan []byte
	done  chan struct{}
	once  *sync.Once

	mu        sync.Mutex
	buffered  uint64
	sent      [][]byte
	state     transfer.ReadyState
	threshold uint64

	closeBus   event.Bus[struct{}]
	lowBus     event.Bus[struct{}]
	messageBus event.Bus[[]byte]
	openBus    event.Bus[struct{}]
}

// Pipe returns a connected pair in the connecting state. The first end is
// outbound, the second inbound. Call Open to open both.
func Pipe(label string) (*Channel, *Channel) {
	once := &sync.Once{}
	a := &Channel{dir: transfer.Outbound, label: label, queue: make(chan []byte, queueSize), done: make(chan struct{}), once: once}
	b := &Channel{dir: transfer.Inbound, label: label, queue: make(chan []byte, queueSize), done: make(chan struct{}), once: once}
	a.peer, b.peer = b, a

	go a.deliver()
	go b.deliver()
	return a, b
}

func (c *Channel) Open() {
	for _, end := range []*Channel{c, c.peer} {
		end.mu.Lock()
		end.state = transfer.StateOpen
		end.mu.Unlock()
	}
	c.openBus.Emit(struct{}{})
	c.peer.openBus.Emit(struct{}{})
}

func (c *Channel) deliver() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			select {
			case <-c.done:
				return
			default:
			}

			c.peer.messageBus.Emit(data)

			c.mu.Lock()
			before := c.buffered
			c.buffered -= uint64(len(data))
			crossed := before > c.threshold && c.buffered <= c.threshold
			c.mu.Unlock()

			if crossed {
				c.lowBus.Emit(struct{}{})
			}
		}
	}
}

func (c *Channel) Label() string                  { return c.label }
func (c *Channel) Direction() transfer.Direction { return c.dir }

func (c *Channel) ReadyState() transfer.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if c.state != transfer.StateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	c.buffered += uint64(len(data))
	c.sent = append(c.sent, data)
	c.mu.Unlock()

	select {
	case c.queue <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close closes both ends and notifies both.
func (c *Channel) Close() error {
	c.once.Do(func() {
		for _, end := range []*Channel{c, c.peer} {
			end.mu.Lock()
			end.state = transfer.StateClosed
			end.mu.Unlock()
			close(end.done)
		}
		c.closeBus.Emit(struct{}{})
		c.peer.closeBus.Emit(struct{}{})
	})
	return nil
}

func (c *Channel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Channel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
}

// Sent returns a copy of the list of messages passed to Send.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Channel) OnOpen(fn func()) func() {
	return c.openBus.Subscribe(func(struct{}) { fn() })
}

func (c *Channel) OnClose(fn func()) func() {
	return c.closeBus.Subscribe(func(struct{}) { fn() })
}

func (c *Channel) OnMessage(fn func([]byte)) func() {
	return c.messageBus.Subscribe(fn)
}

func (c *Channel) OnBufferedAmountLow(fn func()) func() {
	return c.lowBus.Subscribe(func(struct{}) { fn() })
}
