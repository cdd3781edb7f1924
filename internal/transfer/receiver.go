package transfer

import (
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/sirupsen/logrus"
)

const UnknownSize = -1

// Receiver collects the chunks arriving on a channel in arrival order and
// assembles them once the byte count reaches the total size. The total may be
// unknown when the first chunk arrives and supplied later with SetTotalSize.
type Receiver struct {
	ch      Channel
	cancels []func()
	events  event.Bus[Event]
	logger  *logrus.Logger

	mu       sync.Mutex
	chunks   [][]byte
	received int64
	result   []byte
	status   Status
	total    int64
}

// NewReceiver attaches to ch's message and close notifications. Pass
// UnknownSize when the total size is not known yet.
func NewReceiver(ch Channel, total int64, opts Options) *Receiver {
	opts = opts.withDefaults()
	r := &Receiver{
		ch:     ch,
		logger: opts.Logger,
		total:  total,
	}
	r.cancels = append(r.cancels,
		ch.OnMessage(func(data []byte) { _ = r.OnChunk(data) }),
		ch.OnClose(r.handleClose),
	)
	return r
}

func (r *Receiver) Subscribe(fn func(Event)) func() {
	return r.events.Subscribe(fn)
}

// OnChunk appends one chunk. Data arriving after completion is rejected and
// never modifies the assembled payload.
func (r *Receiver) OnChunk(data []byte) error {
	r.mu.Lock()
	switch r.status {
	case StatusComplete:
		r.mu.Unlock()
		r.logger.Warnf("Discarding %d bytes on %s after completion", len(data), r.ch.Label())
		r.events.Emit(Event{Err: ErrUnexpectedDataAfterCompletion, Label: r.ch.Label(), Role: RoleReceiver, Type: EventRejected})
		return ErrUnexpectedDataAfterCompletion
	case StatusAborted:
		r.mu.Unlock()
		r.logger.Debugf("Discarding %d bytes on aborted transfer %s", len(data), r.ch.Label())
		return ErrAborted
	}

	if r.total >= 0 && r.received+int64(len(data)) > r.total {
		r.status = StatusAborted
		received, total := r.received, r.total
		r.mu.Unlock()

		err := &Error{Kind: PayloadOverrun, Err: fmt.Errorf("%d bytes received, chunk of %d exceeds total %d", received, len(data), total)}
		r.fail(err, received, total)
		_ = r.ch.Close()
		return err
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	r.chunks = append(r.chunks, chunk)
	r.received += int64(len(chunk))
	r.status = StatusActive

	received, total := r.received, r.total
	payload, done := r.completeLocked()
	r.mu.Unlock()

	r.events.Emit(Event{Bytes: received, Label: r.ch.Label(), Role: RoleReceiver, Total: total, Type: EventProgress})
	if done {
		r.finish(payload)
	}
	return nil
}

// SetTotalSize supplies the total for a transfer created with UnknownSize.
// If the bytes already received match the total the transfer completes.
func (r *Receiver) SetTotalSize(n int64) error {
	if n <= 0 {
		return ErrEmptyPayload
	}

	r.mu.Lock()
	if r.total >= 0 {
		total := r.total
		r.mu.Unlock()
		if total == n {
			return nil
		}
		return fmt.Errorf("%w: %d != %d", ErrSizeMismatch, total, n)
	}
	if r.status.Done() {
		r.mu.Unlock()
		return ErrAborted
	}

	r.total = n
	if r.received > n {
		r.status = StatusAborted
		received := r.received
		r.mu.Unlock()

		err := &Error{Kind: PayloadOverrun, Err: fmt.Errorf("%d bytes received before size %d was known", received, n)}
		r.fail(err, received, n)
		_ = r.ch.Close()
		return err
	}

	payload, done := r.completeLocked()
	r.mu.Unlock()

	if done {
		r.finish(payload)
	}
	return nil
}

// completeLocked marks the transfer complete when every byte is in and
// returns the assembled payload. Callers hold r.mu.
func (r *Receiver) completeLocked() ([]byte, bool) {
	if r.total < 0 || r.received != r.total || r.status == StatusComplete {
		return nil, false
	}

	payload := make([]byte, 0, r.total)
	for _, c := range r.chunks {
		payload = append(payload, c...)
	}
	r.result = payload
	r.status = StatusComplete
	return payload, true
}

func (r *Receiver) finish(payload []byte) {
	r.logger.Infof("Received %d bytes on %s", len(payload), r.ch.Label())
	r.events.Emit(Event{
		Bytes:   int64(len(payload)),
		Label:   r.ch.Label(),
		Payload: payload,
		Role:    RoleReceiver,
		Total:   int64(len(payload)),
		Type:    EventComplete,
	})
	if err := r.ch.Close(); err != nil {
		r.logger.Debugf("Failed to close channel %s: %v", r.ch.Label(), err)
	}
}

func (r *Receiver) fail(err error, received, total int64) {
	r.logger.Warnf("Transfer on %s aborted after %d bytes: %v", r.ch.Label(), received, err)
	r.events.Emit(Event{Bytes: received, Err: err, Label: r.ch.Label(), Role: RoleReceiver, Total: total, Type: EventAborted})
}

func (r *Receiver) handleClose() {
	r.mu.Lock()
	if r.status.Done() {
		r.mu.Unlock()
		return
	}
	r.status = StatusAborted
	received, total := r.received, r.total
	r.mu.Unlock()

	r.fail(ErrChannelClosedDuringTransfer, received, total)
}

// Detach stops listening to the channel.
func (r *Receiver) Detach() {
	for _, cancel := range r.cancels {
		cancel()
	}
}

func (r *Receiver) BytesTransferred() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

func (r *Receiver) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Result returns the assembled payload, or nil before completion.
func (r *Receiver) Result() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Receiver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Receiver) TotalSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
