package call

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

const (
	messagePrefix = "msg-"

	MaxMessageSize = 64 * 1024
)

// SendMessage delivers text to the other member on a channel of its own and
// returns once the other side has all of it. A message holds the outbound
// direction like a file does but is not recorded in the history.
func (c *Call) SendMessage(ctx context.Context, text string) error {
	if text == "" {
		return transfer.ErrEmptyPayload
	}
	if len(text) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(text))
	}

	remote, err := c.reserveOutbound()
	if err != nil {
		return err
	}
	defer c.releaseOutbound()

	ch, err := c.openChannel(ctx, remote, messagePrefix)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	closed := make(chan struct{})
	var once sync.Once
	ch.OnClose(func() { once.Do(func() { close(closed) }) })

	size := int64(len(text))
	if err := c.announce(ctx, remote, protocol.TransferMeta{ChunkSize: c.chunkSize(), Label: ch.Label(), Size: size}); err != nil {
		return err
	}
	if err := transfer.NewSender(ch, c.topts).Send(ctx, strings.NewReader(text), size); err != nil {
		return err
	}

	select {
	case <-closed:
		c.logger.Debugf("Delivered %d byte message to %s", size, remote)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// message is a text message still arriving.
type message struct {
	ch       transfer.Channel
	receiver *transfer.Receiver
}

func (c *Call) handleInboundMessage(remote string, ch transfer.Channel) {
	c.mu.Lock()
	total := int64(transfer.UnknownSize)
	if meta, ok := c.metas[ch.Label()]; ok {
		total = meta.Size
		delete(c.metas, ch.Label())
	}
	if total > MaxMessageSize {
		c.mu.Unlock()
		c.logger.Warnf("Refusing %d byte message from %s", total, remote)
		_ = ch.Close()
		return
	}
	receiver := transfer.NewReceiver(ch, total, c.topts)
	c.messages[ch.Label()] = &message{ch: ch, receiver: receiver}
	c.mu.Unlock()

	var once sync.Once
	finish := func(text string, err error) {
		once.Do(func() {
			c.mu.Lock()
			delete(c.messages, ch.Label())
			c.mu.Unlock()

			if err != nil {
				c.logger.Warnf("Message on %s from %s lost: %v", ch.Label(), remote, err)
				return
			}
			c.events.Emit(Event{PeerID: remote, Text: text, Type: EventMessage})
		})
	}

	receiver.Subscribe(func(ev transfer.Event) {
		switch ev.Type {
		case transfer.EventComplete:
			finish(string(ev.Payload), nil)
		case transfer.EventAborted:
			finish("", ev.Err)
		}
	})
	// A short message can be complete before the subscription.
	switch receiver.Status() {
	case transfer.StatusComplete:
		finish(string(receiver.Result()), nil)
	case transfer.StatusAborted:
		finish("", transfer.ErrChannelClosedDuringTransfer)
	}
}

func (c *Call) sizeMessage(m *message, meta protocol.TransferMeta) {
	if meta.Size > MaxMessageSize {
		c.logger.Warnf("Refusing %d byte message on %s", meta.Size, meta.Label)
		_ = m.ch.Close()
		return
	}
	if err := m.receiver.SetTotalSize(meta.Size); err != nil {
		c.logger.Warnf("Size for %s rejected: %v", meta.Label, err)
	}
}
