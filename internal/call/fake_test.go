package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer/transfertest"
)

// fakeNetwork connects the fake peer connections of two peers. Channels a
// side creates reach the other side when it applies the offer and open once
// the answer is applied.
type fakeNetwork struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{conns: make(map[string]*fakeConn)}
}

// factory returns the NewConnection function for owner.
func (n *fakeNetwork) factory(owner string) func() (negotiation.PeerConnection, error) {
	return func() (negotiation.PeerConnection, error) {
		c := &fakeConn{net: n, owner: owner}
		n.mu.Lock()
		n.conns[owner] = c
		n.mu.Unlock()
		return c, nil
	}
}

func (n *fakeNetwork) peerOf(owner string) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, c := range n.conns {
		if id != owner {
			return c
		}
	}
	return nil
}

type fakeConn struct {
	net   *fakeNetwork
	owner string

	mu          sync.Mutex
	candidateFn func(*protocol.ICECandidate)
	channelFn   func(transfer.Channel)
	closed      bool
	local       *protocol.SessionDescription
	offers      int
	opened      []*transfertest.Channel
	pending     []*transfertest.Channel
	remote      *protocol.SessionDescription
	stateFn     func(negotiation.ConnectionState)
}

func (c *fakeConn) CreateOffer() (protocol.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return protocol.SessionDescription{SDP: fmt.Sprintf("v=0\r\ns=%s-%d\r\n", c.owner, c.offers), Type: protocol.SDPTypeOffer}, nil
}

func (c *fakeConn) CreateAnswer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{SDP: "v=0\r\ns=" + c.owner + "-answer\r\n", Type: protocol.SDPTypeAnswer}, nil
}

func (c *fakeConn) SetLocalDescription(d protocol.SessionDescription) error {
	c.mu.Lock()
	c.local = &d
	fn := c.candidateFn
	c.mu.Unlock()

	if fn != nil {
		fn(&protocol.ICECandidate{Candidate: "candidate:" + c.owner})
		fn(nil)
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(d protocol.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	c.remote = &d
	c.mu.Unlock()

	peer := c.net.peerOf(c.owner)
	if peer == nil {
		return errors.New("no peer connection")
	}

	switch d.Type {
	case protocol.SDPTypeOffer:
		peer.mu.Lock()
		inbound := peer.pending
		peer.pending = nil
		peer.mu.Unlock()

		c.mu.Lock()
		fn := c.channelFn
		c.mu.Unlock()
		for _, ch := range inbound {
			if fn != nil {
				fn(ch)
			}
		}
	case protocol.SDPTypeAnswer:
		c.mu.Lock()
		opened := c.opened
		c.opened = nil
		c.mu.Unlock()
		for _, ch := range opened {
			ch.Open()
		}
		c.connected()
		peer.connected()
	}
	return nil
}

func (c *fakeConn) connected() {
	c.mu.Lock()
	fn := c.stateFn
	c.mu.Unlock()
	if fn != nil {
		fn(negotiation.ConnectionConnected)
	}
}

func (c *fakeConn) RollbackLocalDescription() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = nil
	return nil
}

func (c *fakeConn) AddICECandidate(protocol.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("candidate before remote description")
	}
	return nil
}

func (c *fakeConn) CreateChannel(label string) (transfer.Channel, error) {
	out, in := transfertest.Pipe(label)
	c.mu.Lock()
	c.opened = append(c.opened, out)
	c.pending = append(c.pending, in)
	c.mu.Unlock()
	return out, nil
}

func (c *fakeConn) AddTrack(negotiation.MediaSource) error {
	return errors.New("media is not supported by the fake")
}

func (c *fakeConn) OnICECandidate(fn func(*protocol.ICECandidate)) {
	c.mu.Lock()
	c.candidateFn = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(negotiation.ConnectionState)) {
	c.mu.Lock()
	c.stateFn = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnChannel(fn func(transfer.Channel)) {
	c.mu.Lock()
	c.channelFn = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
