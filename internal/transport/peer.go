package transport

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/sirupsen/logrus"
)

// Peer is one QUIC connection. Every transfer channel is its own stream.
type Peer struct {
	conn   *quic.Conn
	logger *logrus.Logger
}

func NewPeer(conn *quic.Conn, logger *logrus.Logger) *Peer {
	return &Peer{conn: conn, logger: logger}
}

// OpenChannel opens a stream and announces label to the remote side.
func (p *Peer) OpenChannel(ctx context.Context, label string) (transfer.Channel, error) {
	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := writeFrame(stream, []byte(label)); err != nil {
		stream.CancelRead(0)
		_ = stream.Close()
		return nil, fmt.Errorf("announce channel %q: %w", label, err)
	}
	return newStreamChannel(stream, label, transfer.Outbound, p.logger), nil
}

// AcceptChannel waits for the remote side to open a channel.
func (p *Peer) AcceptChannel(ctx context.Context) (transfer.Channel, error) {
	stream, err := p.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	label, err := readFrame(stream)
	if err != nil {
		stream.CancelRead(0)
		stream.CancelWrite(0)
		return nil, fmt.Errorf("read channel label: %w", err)
	}
	return newStreamChannel(stream, string(label), transfer.Inbound, p.logger), nil
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Close() error {
	return p.conn.CloseWithError(0, "")
}
