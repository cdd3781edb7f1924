package call

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/rate"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

const filePrefix = "file-"

// SendFile opens a channel to the room's other member and sends size bytes
// from r over it. The session is started, or renegotiated when already
// connected, as needed. It returns when the last chunk was handed to the
// channel.
func (c *Call) SendFile(ctx context.Context, name string, r io.Reader, size int64) error {
	if size <= 0 {
		return transfer.ErrEmptyPayload
	}

	remote, err := c.reserveOutbound()
	if err != nil {
		return err
	}
	defer c.releaseOutbound()

	var checksum string
	if rs, ok := r.(io.ReadSeeker); ok {
		if checksum, err = transfer.SeekChecksum(rs, size); err != nil {
			return err
		}
	}

	ch, err := c.openChannel(ctx, remote, filePrefix)
	if err != nil {
		return err
	}
	label := ch.Label()

	meta := protocol.TransferMeta{Checksum: checksum, ChunkSize: c.chunkSize(), Label: label, Name: name, Size: size}
	if err := c.announce(ctx, remote, meta); err != nil {
		return err
	}

	sender := transfer.NewSender(ch, c.topts)
	out := &outbound{ch: ch, name: name, sampler: rate.NewSampler(), sender: sender}

	c.mu.Lock()
	c.outbound = out
	c.mu.Unlock()

	rec := db.Transfer{
		Direction: transfer.Outbound.String(),
		ID:        uuid.NewString(),
		Label:     label,
		Name:      name,
		PeerID:    remote,
		Size:      size,
		StartedAt: time.Now().UnixMilli(),
		Status:    transfer.StatusActive.String(),
	}
	c.record(rec)

	sender.Subscribe(func(ev transfer.Event) { c.forward(name, ev) })
	out.sampler.Run(c.opts.SampleInterval, func() (int64, bool) {
		return sender.BytesTransferred(), !sender.Status().Done()
	})

	c.logger.Infof("Sending %s (%d bytes) to %s", name, size, remote)
	sendErr := sender.Send(ctx, r, size)

	rec.Bytes = sender.BytesTransferred()
	rec.FinishedAt = time.Now().UnixMilli()
	rec.PeakKbps = out.sampler.Peak()
	rec.Status = sender.Status().String()
	c.record(rec)
	return sendErr
}

// openChannel attaches a new channel named prefix plus a random suffix and
// negotiates until it is open.
func (c *Call) openChannel(ctx context.Context, remote, prefix string) (transfer.Channel, error) {
	e, err := c.session(remote)
	if err != nil {
		return nil, err
	}

	label := prefix + uuid.NewString()[:8]
	ch, err := e.AttachChannel(label)
	if err != nil {
		return nil, fmt.Errorf("attach channel: %w", err)
	}

	switch e.State() {
	case negotiation.StateIdle:
		err = e.StartCall(ctx)
	case negotiation.StateConnected:
		err = e.RestartNegotiation(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := transfer.WaitOpen(ctx, ch); err != nil {
		return nil, fmt.Errorf("waiting for channel %s: %w", label, err)
	}
	return ch, nil
}

// announce tells remote, through the relay, what is coming on meta.Label.
func (c *Call) announce(ctx context.Context, remote string, meta protocol.TransferMeta) error {
	env, err := protocol.NewEnvelope(protocol.KindTransferMeta, meta)
	if err != nil {
		return err
	}
	env.To = remote
	if err := c.link.Send(ctx, env); err != nil {
		return fmt.Errorf("send transfer-meta: %w", err)
	}
	return nil
}

// reserveOutbound claims the outbound direction and returns the remote peer.
func (c *Call) reserveOutbound() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == "" {
		return "", ErrNoPeer
	}
	if c.sending {
		return "", ErrTransferActive
	}
	c.sending = true
	return c.remote, nil
}

func (c *Call) releaseOutbound() {
	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()
}

func (c *Call) chunkSize() int {
	if c.opts.ChunkSize > 0 {
		return c.opts.ChunkSize
	}
	return transfer.DefaultChunkSize
}

func (c *Call) handleInboundChannel(remote string, ch transfer.Channel) {
	if strings.HasPrefix(ch.Label(), messagePrefix) {
		c.handleInboundMessage(remote, ch)
		return
	}

	c.mu.Lock()
	if c.inbound != nil && !c.inbound.receiver.Status().Done() {
		c.mu.Unlock()
		c.logger.Warnf("Refusing channel %s from %s: a transfer is already running", ch.Label(), remote)
		_ = ch.Close()
		return
	}

	total := int64(transfer.UnknownSize)
	var name, checksum string
	if meta, ok := c.metas[ch.Label()]; ok {
		total, name, checksum = meta.Size, meta.Name, meta.Checksum
		delete(c.metas, ch.Label())
	}

	receiver := transfer.NewReceiver(ch, total, c.topts)
	in := &inbound{
		ch:       ch,
		checksum: checksum,
		name:     name,
		receiver: receiver,
		record:   uuid.NewString(),
		sampler:  rate.NewSampler(),
		started:  time.Now(),
	}
	c.inbound = in
	c.mu.Unlock()

	c.logger.Infof("Receiving on %s from %s", ch.Label(), remote)

	receiver.Subscribe(func(ev transfer.Event) {
		c.mu.Lock()
		name, checksum := in.name, in.checksum
		c.mu.Unlock()

		if ev.Type == transfer.EventComplete {
			if err := transfer.VerifyChecksum(ev.Payload, checksum); err != nil {
				c.logger.Warnf("Discarding %s: %v", name, err)
				ev = transfer.Event{Bytes: ev.Bytes, Err: err, Label: ev.Label, Role: ev.Role, Total: ev.Total, Type: transfer.EventAborted}
			} else {
				c.mu.Lock()
				c.result = &Result{Data: ev.Payload, Name: name, Size: int64(len(ev.Payload))}
				c.mu.Unlock()
			}
		}

		c.forward(name, ev)
		if ev.Type == transfer.EventComplete || ev.Type == transfer.EventAborted {
			c.recordInbound(remote, in, ev)
		}
	})

	in.sampler.Run(c.opts.SampleInterval, func() (int64, bool) {
		return receiver.BytesTransferred(), !receiver.Status().Done()
	})
}

func (c *Call) handleMeta(meta protocol.TransferMeta) {
	c.mu.Lock()
	if msg, ok := c.messages[meta.Label]; ok {
		c.mu.Unlock()
		c.sizeMessage(msg, meta)
		return
	}
	in := c.inbound
	if in == nil || in.ch.Label() != meta.Label {
		c.metas[meta.Label] = meta
		c.mu.Unlock()
		return
	}
	in.checksum = meta.Checksum
	in.name = meta.Name
	c.mu.Unlock()

	if err := in.receiver.SetTotalSize(meta.Size); err != nil {
		c.logger.Warnf("Size for %s rejected: %v", meta.Label, err)
	}
}

// forward republishes a transfer event as a call event.
func (c *Call) forward(name string, ev transfer.Event) {
	out := Event{Err: ev.Err, Name: name, Transfer: ev}
	switch ev.Type {
	case transfer.EventProgress:
		out.Type = EventProgress
	case transfer.EventComplete:
		out.Type = EventTransferComplete
		if ev.Role == transfer.RoleReceiver {
			c.mu.Lock()
			out.Result = c.result
			c.mu.Unlock()
		}
	case transfer.EventAborted:
		out.Type = EventTransferAborted
	default:
		c.logger.Debugf("Dropped %s on %s: %v", ev.Type, ev.Label, ev.Err)
		return
	}
	c.events.Emit(out)
}

func (c *Call) recordInbound(remote string, in *inbound, ev transfer.Event) {
	status := transfer.StatusComplete
	if ev.Type == transfer.EventAborted {
		status = transfer.StatusAborted
	}

	c.mu.Lock()
	name := in.name
	c.mu.Unlock()

	c.record(db.Transfer{
		Bytes:      ev.Bytes,
		Direction:  transfer.Inbound.String(),
		FinishedAt: time.Now().UnixMilli(),
		ID:         in.record,
		Label:      in.ch.Label(),
		Name:       name,
		PeakKbps:   in.sampler.Peak(),
		PeerID:     remote,
		Size:       ev.Total,
		StartedAt:  in.started.UnixMilli(),
		Status:     status.String(),
	})
}

func (c *Call) record(t db.Transfer) {
	if c.history == nil {
		return
	}
	if err := c.history.Save(context.Background(), t); err != nil {
		c.logger.Warnf("Failed to record transfer %s: %v", t.ID, err)
	}
}
