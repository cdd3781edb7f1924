package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/sirupsen/logrus"
)

// Sender pushes one payload over a channel in fixed-size chunks, waiting for
// the channel's buffer to drain to the low-water mark between chunks.
type Sender struct {
	ch        Channel
	chunkSize int
	events    event.Bus[Event]
	logger    *logrus.Logger
	lowWater  uint64

	mu     sync.Mutex
	sent   int64
	status Status
	total  int64
}

func NewSender(ch Channel, opts Options) *Sender {
	opts = opts.withDefaults()
	return &Sender{
		ch:        ch,
		chunkSize: opts.ChunkSize,
		logger:    opts.Logger,
		lowWater:  opts.LowWaterMark,
	}
}

func (s *Sender) Subscribe(fn func(Event)) func() {
	return s.events.Subscribe(fn)
}

// Send transmits size bytes read from payload. It returns once the last chunk
// has been handed to the channel; the receiver recognises completion by
// counting bytes.
func (s *Sender) Send(ctx context.Context, payload io.Reader, size int64) error {
	if size <= 0 {
		return ErrEmptyPayload
	}
	if s.ch.ReadyState() != StateOpen {
		return ErrChannelNotReady
	}

	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.status = StatusActive
	s.total = size
	s.mu.Unlock()

	closed := make(chan struct{})
	var closeOnce sync.Once
	cancelClose := s.ch.OnClose(func() { closeOnce.Do(func() { close(closed) }) })
	defer cancelClose()

	drained := make(chan struct{}, 1)
	cancelLow := s.ch.OnBufferedAmountLow(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	defer cancelLow()
	s.ch.SetBufferedAmountLowThreshold(s.lowWater)

	s.logger.Debugf("Sending %d bytes on %s in chunks of %d", size, s.ch.Label(), s.chunkSize)

	var sent int64
	for sent < size {
		select {
		case <-closed:
			return s.abort(ErrChannelClosedDuringTransfer)
		case <-ctx.Done():
			return s.abort(ctx.Err())
		default:
		}

		n := int64(s.chunkSize)
		if rem := size - sent; rem < n {
			n = rem
		}

		chunk := make([]byte, n)
		if _, err := io.ReadFull(payload, chunk); err != nil {
			return s.abort(fmt.Errorf("read payload at offset %d: %w", sent, err))
		}

		if err := s.ch.Send(chunk); err != nil {
			if s.ch.ReadyState() != StateOpen {
				return s.abort(&Error{Kind: ChannelClosedDuringTransfer, Err: err})
			}
			return s.abort(fmt.Errorf("send chunk at offset %d: %w", sent, err))
		}

		sent += n
		s.mu.Lock()
		s.sent = sent
		s.mu.Unlock()
		s.events.Emit(Event{Bytes: sent, Label: s.ch.Label(), Role: RoleSender, Total: size, Type: EventProgress})

		if sent < size {
			if err := s.waitDrain(ctx, drained, closed); err != nil {
				return s.abort(err)
			}
		}
	}

	s.mu.Lock()
	s.status = StatusComplete
	s.mu.Unlock()

	s.logger.Infof("Sent %d bytes on %s", size, s.ch.Label())
	s.events.Emit(Event{Bytes: size, Label: s.ch.Label(), Role: RoleSender, Total: size, Type: EventComplete})
	return nil
}

func (s *Sender) waitDrain(ctx context.Context, drained, closed <-chan struct{}) error {
	for s.ch.BufferedAmount() > s.lowWater {
		select {
		case <-drained:
		case <-closed:
			return ErrChannelClosedDuringTransfer
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Sender) abort(err error) error {
	s.mu.Lock()
	s.status = StatusAborted
	sent, total := s.sent, s.total
	s.mu.Unlock()

	s.logger.Warnf("Transfer on %s aborted after %d/%d bytes: %v", s.ch.Label(), sent, total, err)
	s.events.Emit(Event{Bytes: sent, Err: err, Label: s.ch.Label(), Role: RoleSender, Total: total, Type: EventAborted})
	return err
}

func (s *Sender) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Sender) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sender) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
