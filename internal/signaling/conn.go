package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

var ErrMalformedEnvelope = errors.New("signaling: malformed envelope")

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn carries JSON envelopes in websocket text messages.
func NewWSConn(c *websocket.Conn) Conn {
	return &wsConn{conn: c}
}

func (c *wsConn) ReadEnvelope() (protocol.Envelope, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if !env.Kind.Valid() {
			return protocol.Envelope{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEnvelope, string(env.Kind))
		}
		return env, nil
	}
}

func (c *wsConn) WriteEnvelope(env protocol.Envelope, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

type tcpConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewTCPConn carries envelopes as length-prefixed protobuf frames.
func NewTCPConn(c net.Conn) Conn {
	return &tcpConn{conn: c}
}

func (c *tcpConn) ReadEnvelope() (protocol.Envelope, error) {
	env, err := protocol.ReadFrame(c.conn)
	if err != nil && errors.Is(err, protocol.ErrUnknownKind) {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, err
}

func (c *tcpConn) WriteEnvelope(env protocol.Envelope, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	return protocol.WriteFrame(c.conn, env)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
