// Package direct moves a single file over a QUIC connection without a relay
// or WebRTC session. The file is announced on a "meta" channel and streamed
// on a second channel named by the announcement.
package direct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/sirupsen/logrus"
)

const MetaLabel = "meta"

var ErrUnexpectedChannel = errors.New("direct: unexpected channel")

// Peer is the part of transport.Peer used here.
type Peer interface {
	OpenChannel(ctx context.Context, label string) (transfer.Channel, error)
	AcceptChannel(ctx context.Context) (transfer.Channel, error)
}

var _ Peer = (*transport.Peer)(nil)

type Options struct {
	ChunkSize    int
	Logger       *logrus.Logger
	LowWaterMark uint64
	// Progress receives every transfer event when set.
	Progress func(transfer.Event)
}

func (o Options) transfer() transfer.Options {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = transfer.DefaultChunkSize
	}
	return transfer.Options{ChunkSize: o.ChunkSize, Logger: o.Logger, LowWaterMark: o.LowWaterMark}
}

type Result struct {
	Data []byte
	Name string
}

// Send announces name and size, then streams r. It returns once the
// receiver has closed the file channel or ctx ends.
func Send(ctx context.Context, p Peer, name string, r io.Reader, size int64, opts Options) error {
	if size <= 0 {
		return transfer.ErrEmptyPayload
	}
	topts := opts.transfer()

	var checksum string
	if rs, ok := r.(io.ReadSeeker); ok {
		var err error
		if checksum, err = transfer.SeekChecksum(rs, size); err != nil {
			return err
		}
	}

	meta := protocol.TransferMeta{
		Checksum:  checksum,
		ChunkSize: topts.ChunkSize,
		Label:     "file-" + uuid.NewString()[:8],
		Name:      name,
		Size:      size,
	}
	if err := announce(ctx, p, meta); err != nil {
		return err
	}

	ch, err := p.OpenChannel(ctx, meta.Label)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	closed := make(chan struct{})
	ch.OnClose(func() { close(closed) })

	sender := transfer.NewSender(ch, topts)
	if opts.Progress != nil {
		sender.Subscribe(opts.Progress)
	}
	if err := sender.Send(ctx, r, size); err != nil {
		return err
	}

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func announce(ctx context.Context, p Peer, meta protocol.TransferMeta) error {
	env, err := protocol.NewEnvelope(protocol.KindTransferMeta, meta)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := protocol.WriteFrame(&buf, env); err != nil {
		return err
	}

	ch, err := p.OpenChannel(ctx, MetaLabel)
	if err != nil {
		return err
	}
	if err := ch.Send(buf.Bytes()); err != nil {
		_ = ch.Close()
		return fmt.Errorf("send transfer-meta: %w", err)
	}
	return ch.Close()
}

// Receive waits for one announced file and returns its contents.
func Receive(ctx context.Context, p Peer, opts Options) (Result, error) {
	topts := opts.transfer()

	meta, err := awaitMeta(ctx, p)
	if err != nil {
		return Result{}, err
	}
	topts.Logger.Infof("Incoming %s (%d bytes) on %s", meta.Name, meta.Size, meta.Label)

	ch, err := p.AcceptChannel(ctx)
	if err != nil {
		return Result{}, err
	}
	if ch.Label() != meta.Label {
		_ = ch.Close()
		return Result{}, fmt.Errorf("%w: %q, announced %q", ErrUnexpectedChannel, ch.Label(), meta.Label)
	}

	done := make(chan transfer.Event, 1)
	recv := transfer.NewReceiver(ch, meta.Size, topts)
	defer recv.Detach()
	recv.Subscribe(func(ev transfer.Event) {
		if opts.Progress != nil {
			opts.Progress(ev)
		}
		if ev.Type == transfer.EventComplete || ev.Type == transfer.EventAborted {
			select {
			case done <- ev:
			default:
			}
		}
	})
	// Small files can finish before the subscription above.
	var data []byte
	switch recv.Status() {
	case transfer.StatusComplete:
		data = recv.Result()
	case transfer.StatusAborted:
		return Result{}, transfer.ErrChannelClosedDuringTransfer
	default:
		select {
		case ev := <-done:
			if ev.Type == transfer.EventAborted {
				return Result{}, ev.Err
			}
			data = ev.Payload
		case <-ctx.Done():
			_ = ch.Close()
			return Result{}, ctx.Err()
		}
	}

	if err := transfer.VerifyChecksum(data, meta.Checksum); err != nil {
		return Result{}, err
	}
	return Result{Data: data, Name: meta.Name}, nil
}

func awaitMeta(ctx context.Context, p Peer) (protocol.TransferMeta, error) {
	ch, err := p.AcceptChannel(ctx)
	if err != nil {
		return protocol.TransferMeta{}, err
	}
	defer func() { _ = ch.Close() }()
	if ch.Label() != MetaLabel {
		return protocol.TransferMeta{}, fmt.Errorf("%w: %q, expected %q", ErrUnexpectedChannel, ch.Label(), MetaLabel)
	}

	msgs := make(chan []byte, 1)
	ch.OnMessage(func(data []byte) {
		select {
		case msgs <- data:
		default:
		}
	})

	var data []byte
	select {
	case data = <-msgs:
	case <-ctx.Done():
		return protocol.TransferMeta{}, ctx.Err()
	}

	env, err := protocol.ReadFrame(bytes.NewReader(data))
	if err != nil {
		return protocol.TransferMeta{}, fmt.Errorf("read transfer-meta: %w", err)
	}
	if env.Kind != protocol.KindTransferMeta {
		return protocol.TransferMeta{}, fmt.Errorf("expected %s, got %s", protocol.KindTransferMeta, env.Kind)
	}
	var meta protocol.TransferMeta
	if err := env.Decode(&meta); err != nil {
		return protocol.TransferMeta{}, err
	}
	if meta.Size <= 0 {
		return protocol.TransferMeta{}, transfer.ErrEmptyPayload
	}
	return meta, nil
}
