// Package transport carries transfer channels directly over QUIC streams,
// for peers that can reach each other without ICE.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

type Transport struct {
	listener *quic.Listener
	logger   *logrus.Logger
	quicConf *quic.Config
	tlsConf  *tls.Config
}

// NewTransport listens for QUIC connections on addr.
func NewTransport(addr string, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tlsConf, err := opts.tlsConfig()
	if err != nil {
		return nil, fmt.Errorf("generating certificate: %w", err)
	}
	quicConf := opts.quicConfig()

	listener, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	opts.Logger.Debugf("QUIC listening on %s (idle timeout %s)", listener.Addr(), opts.IdleTimeout)
	return &Transport{
		listener: listener,
		logger:   opts.Logger,
		quicConf: quicConf,
		tlsConf:  tlsConf,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	t.logger.Debugf("Accepted QUIC connection from %s", conn.RemoteAddr())
	return NewPeer(conn, t.logger), nil
}

func (t *Transport) Dial(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	t.logger.Debugf("QUIC connection established with %s", addr)
	return NewPeer(conn, t.logger), nil
}

func (t *Transport) Close() error {
	return t.listener.Close()
}
