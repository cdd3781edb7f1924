package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/sirupsen/logrus"
)

const (
	// MaxMessageSize bounds one message, like a data channel's max message
	// size.
	MaxMessageSize = 256 * 1024
	closeTimeout   = 5 * time.Second
)

var ErrMessageTooLarge = errors.New("transport: message exceeds maximum size")

func writeFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// streamChannel is a transfer.Channel over one QUIC stream. Sends are queued
// and written by a single goroutine; BufferedAmount is the queued byte count.
type streamChannel struct {
	closes    event.Bus[struct{}]
	direction transfer.Direction
	label     string
	logger    *logrus.Logger
	lows      event.Bus[struct{}]
	messages  event.Bus[[]byte]
	opens     event.Bus[struct{}]
	reading   sync.Once
	stream    *quic.Stream

	mu        sync.Mutex
	cond      *sync.Cond
	buffered  uint64
	closed    bool
	pending   [][]byte
	state     transfer.ReadyState
	threshold uint64
}

func newStreamChannel(stream *quic.Stream, label string, direction transfer.Direction, logger *logrus.Logger) *streamChannel {
	c := &streamChannel{
		direction: direction,
		label:     label,
		logger:    logger,
		state:     transfer.StateOpen,
		stream:    stream,
	}
	c.cond = sync.NewCond(&c.mu)

	go c.writeLoop()
	return c
}

// listen starts reading once the first message or close handler is attached,
// so nothing arriving earlier is dropped.
func (c *streamChannel) listen() {
	c.reading.Do(func() { go c.readLoop() })
}

func (c *streamChannel) Label() string                 { return c.label }
func (c *streamChannel) Direction() transfer.Direction { return c.direction }

func (c *streamChannel) ReadyState() transfer.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *streamChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *streamChannel) SetBufferedAmountLowThreshold(n uint64) {
	c.mu.Lock()
	c.threshold = n
	c.mu.Unlock()
}

func (c *streamChannel) Send(data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transfer.StateOpen {
		return transfer.ErrChannelNotReady
	}
	c.pending = append(c.pending, msg)
	c.buffered += uint64(len(msg))
	c.cond.Signal()
	return nil
}

// Close flushes queued messages, then ends the stream. The close event fires
// once the remote side has ended it too.
func (c *streamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transfer.StateOpen {
		return nil
	}
	c.state = transfer.StateClosing
	c.cond.Broadcast()
	return nil
}

func (c *streamChannel) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.pending) == 0 && c.state == transfer.StateOpen {
			c.cond.Wait()
		}
		if len(c.pending) == 0 || c.closed {
			c.mu.Unlock()
			break
		}
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		if err := writeFrame(c.stream, msg); err != nil {
			c.logger.Debugf("Write on channel %q failed: %v", c.label, err)
			c.stream.CancelRead(0)
			c.finish()
			return
		}

		c.mu.Lock()
		before := c.buffered
		c.buffered -= uint64(len(msg))
		crossed := before > c.threshold && c.buffered <= c.threshold
		c.mu.Unlock()

		if crossed {
			c.lows.Emit(struct{}{})
		}
	}

	_ = c.stream.Close()
	time.AfterFunc(closeTimeout, func() {
		if c.ReadyState() != transfer.StateClosed {
			c.stream.CancelRead(0)
			c.finish()
		}
	})
}

func (c *streamChannel) readLoop() {
	for {
		msg, err := readFrame(c.stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debugf("Read on channel %q ended: %v", c.label, err)
			}
			break
		}
		c.messages.Emit(msg)
	}

	// The remote side ended the stream; end ours after what is queued.
	c.mu.Lock()
	if c.state == transfer.StateOpen {
		c.state = transfer.StateClosing
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	c.finish()
}

func (c *streamChannel) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = transfer.StateClosed
	c.cond.Broadcast()
	c.mu.Unlock()

	c.closes.Emit(struct{}{})
}

func (c *streamChannel) OnOpen(fn func()) func() {
	return c.opens.Subscribe(func(struct{}) { fn() })
}

func (c *streamChannel) OnClose(fn func()) func() {
	cancel := c.closes.Subscribe(func(struct{}) { fn() })
	c.listen()
	return cancel
}

func (c *streamChannel) OnMessage(fn func([]byte)) func() {
	cancel := c.messages.Subscribe(fn)
	c.listen()
	return cancel
}

func (c *streamChannel) OnBufferedAmountLow(fn func()) func() {
	return c.lows.Subscribe(func(struct{}) { fn() })
}
