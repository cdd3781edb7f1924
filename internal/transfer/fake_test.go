package transfer

import (
	"errors"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/event"
)

var errFakeClosed = errors.New("fake channel closed")

// fakeChannel never drains on its own; tests call drain to simulate the
// transport catching up.
type fakeChannel struct {
	mu         sync.Mutex
	buffered   uint64
	closeCalls int
	sent       [][]byte
	sentCh     chan int
	state      ReadyState
	threshold  uint64

	closeBus event.Bus[struct{}]
	lowBus   event.Bus[struct{}]
	msgBus   event.Bus[[]byte]
	openBus  event.Bus[struct{}]
}

func newFakeChannel(state ReadyState) *fakeChannel {
	return &fakeChannel{state: state}
}

func (c *fakeChannel) Label() string        { return "fake" }
func (c *fakeChannel) Direction() Direction { return Outbound }

func (c *fakeChannel) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return errFakeClosed
	}
	c.buffered += uint64(len(data))
	c.sent = append(c.sent, data)
	ch := c.sentCh
	c.mu.Unlock()

	if ch != nil {
		ch <- len(data)
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closeCalls++
	wasOpen := c.state != StateClosed
	c.state = StateClosed
	c.mu.Unlock()

	if wasOpen {
		c.closeBus.Emit(struct{}{})
	}
	return nil
}

func (c *fakeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *fakeChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
}

func (c *fakeChannel) drain() {
	c.mu.Lock()
	c.buffered = 0
	c.mu.Unlock()
	c.lowBus.Emit(struct{}{})
}

func (c *fakeChannel) deliver(data []byte) {
	c.msgBus.Emit(data)
}

func (c *fakeChannel) sentSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.sent))
	for i, s := range c.sent {
		sizes[i] = len(s)
	}
	return sizes
}

func (c *fakeChannel) OnOpen(fn func()) func() {
	return c.openBus.Subscribe(func(struct{}) { fn() })
}

func (c *fakeChannel) OnClose(fn func()) func() {
	return c.closeBus.Subscribe(func(struct{}) { fn() })
}

func (c *fakeChannel) OnMessage(fn func([]byte)) func() {
	return c.msgBus.Subscribe(fn)
}

func (c *fakeChannel) OnBufferedAmountLow(fn func()) func() {
	return c.lowBus.Subscribe(func(struct{}) { fn() })
}
