package signaling

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDialRetries     = 5
	DefaultInitialInterval = 250 * time.Millisecond
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

type DialOptions struct {
	InitialInterval time.Duration
	Logger          *logrus.Logger
	Retries         uint64
}

func (o DialOptions) withDefaults() DialOptions {
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultInitialInterval
	}
	if o.Retries == 0 {
		o.Retries = DefaultDialRetries
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Dial connects to a relay websocket endpoint such as ws://host:port/ws.
func Dial(ctx context.Context, url string, opts DialOptions) (Link, error) {
	opts = opts.withDefaults()

	var conn *websocket.Conn
	err := retry(ctx, opts, "dial "+url, func() error {
		c, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				if len(body) > 0 {
					return fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
				}
				return fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	opts.Logger.Debugf("Connected to relay %s", url)
	return NewLink(NewWSConn(conn), opts.Logger), nil
}

// DialTCP connects to a relay's TCP listener, which speaks protobuf frames.
func DialTCP(ctx context.Context, addr string, opts DialOptions) (Link, error) {
	opts = opts.withDefaults()

	var d net.Dialer
	var conn net.Conn
	err := retry(ctx, opts, "dial "+addr, func() error {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	opts.Logger.Debugf("Connected to relay %s over tcp", addr)
	return NewLink(NewTCPConn(conn), opts.Logger), nil
}

func retry(ctx context.Context, opts DialOptions, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, backoff.WithContext(backoff.WithMaxRetries(b, opts.Retries), ctx), func(err error, next time.Duration) {
		opts.Logger.Warnf("Attempt %d to %s failed: %v, retrying in %s", attempt, op, err, next.Round(time.Millisecond))
	})
	if err != nil {
		return &TransportError{Err: err, Op: op}
	}
	return nil
}
