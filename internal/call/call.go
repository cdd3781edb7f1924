// Package call runs one peer's side of a session: it joins a relay room,
// negotiates with the other member and moves files over data channels.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/rate"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/sirupsen/logrus"
)

type Options struct {
	ChunkSize    int
	Link         signaling.Link
	Logger       *logrus.Logger
	LowWaterMark uint64
	// NewConnection creates the peer connection for each session.
	NewConnection  func() (negotiation.PeerConnection, error)
	PeerID         string
	SampleInterval time.Duration
	// Transfers records transfer outcomes when set.
	Transfers store.TransferRepository
}

type Call struct {
	events   event.Bus[Event]
	history  store.TransferRepository
	joinedCh chan struct{}
	link     signaling.Link
	logger   *logrus.Logger
	newConn  func() (negotiation.PeerConnection, error)
	opts     Options
	peerID   string
	topts    transfer.Options

	joinedOnce sync.Once
	// sessionMu serializes session creation.
	sessionMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	engine     *negotiation.Engine
	inbound    *inbound
	messages   map[string]*message
	metas      map[string]protocol.TransferMeta
	outbound   *outbound
	remote     string
	remoteName string
	result     *Result
	// sending reserves the outbound direction for the whole of SendFile.
	sending bool
}

// Each direction samples its own rate so a transfer starting one way never
// resets the peak of the other.
type outbound struct {
	ch      transfer.Channel
	name    string
	sampler *rate.Sampler
	sender  *transfer.Sender
}

type inbound struct {
	ch       transfer.Channel
	checksum string
	name     string
	receiver *transfer.Receiver
	record   string
	sampler  *rate.Sampler
	started  time.Time
}

func New(opts Options) *Call {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.PeerID == "" {
		opts.PeerID = uuid.NewString()
	}

	return &Call{
		history:  opts.Transfers,
		joinedCh: make(chan struct{}),
		link:     opts.Link,
		logger:   opts.Logger,
		messages: make(map[string]*message),
		metas:    make(map[string]protocol.TransferMeta),
		newConn:  opts.NewConnection,
		opts:     opts,
		peerID:   opts.PeerID,
		topts: transfer.Options{
			ChunkSize:    opts.ChunkSize,
			Logger:       opts.Logger,
			LowWaterMark: opts.LowWaterMark,
		},
	}
}

func (c *Call) PeerID() string {
	return c.peerID
}

func (c *Call) Subscribe(fn func(Event)) func() {
	return c.events.Subscribe(fn)
}

// Join asks the relay to add this peer to room.
func (c *Call) Join(ctx context.Context, room, username string) error {
	env, err := protocol.NewEnvelope(protocol.KindJoin, protocol.Join{PeerID: c.peerID, Room: room, Username: username})
	if err != nil {
		return err
	}
	if err := c.link.Send(ctx, env); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	c.logger.Infof("Joining room %s as %s", room, username)
	return nil
}

// WaitPeer blocks until another member is in the room and returns its id.
func (c *Call) WaitPeer(ctx context.Context) (string, error) {
	select {
	case <-c.joinedCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == "" {
		return "", ErrNoPeer
	}
	return c.remote, nil
}

// Serve dispatches envelopes from the relay until the link ends, the relay
// shuts down or ctx is done.
func (c *Call) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-c.link.Recv():
			if !ok {
				err := c.link.Err()
				if err == nil {
					return nil
				}
				c.logger.Errorf("Lost relay link: %v", err)
				if e := c.currentEngine(); e != nil {
					e.FatalTransportError(err)
				}
				return err
			}
			if err := c.dispatch(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (c *Call) dispatch(ctx context.Context, env protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindPeerJoined:
		var ev protocol.PeerEvent
		if err := env.Decode(&ev); err != nil {
			c.logger.Warnf("Bad peer-joined: %v", err)
			return nil
		}
		c.handlePeerJoined(ev)
	case protocol.KindPeerLeft:
		var ev protocol.PeerEvent
		if err := env.Decode(&ev); err != nil {
			c.logger.Warnf("Bad peer-left: %v", err)
			return nil
		}
		c.handlePeerLeft(ev)
	case protocol.KindOffer:
		desc, err := env.Description()
		if err != nil {
			c.logger.Warnf("Bad offer from %s: %v", env.From, err)
			return nil
		}
		e, err := c.session(env.From)
		if err != nil {
			c.logger.Errorf("Failed to start session with %s: %v", env.From, err)
			return nil
		}
		if err := e.ReceiveRemoteOffer(ctx, desc); err != nil {
			c.logger.Warnf("Offer from %s not answered: %v", env.From, err)
		}
	case protocol.KindAnswer:
		desc, err := env.Description()
		if err != nil {
			c.logger.Warnf("Bad answer from %s: %v", env.From, err)
			return nil
		}
		if e := c.engineFor(env.From); e != nil {
			if err := e.ReceiveRemoteAnswer(desc); err != nil {
				c.logger.Warnf("Answer from %s rejected: %v", env.From, err)
			}
		}
	case protocol.KindCandidate:
		cand, err := env.Candidate()
		if err != nil {
			c.logger.Warnf("Bad candidate from %s: %v", env.From, err)
			return nil
		}
		// Candidates can overtake the offer they belong to.
		e, err := c.session(env.From)
		if err != nil {
			c.logger.Errorf("Failed to start session with %s: %v", env.From, err)
			return nil
		}
		e.ReceiveRemoteCandidate(cand)
	case protocol.KindTransferMeta:
		var meta protocol.TransferMeta
		if err := env.Decode(&meta); err != nil {
			c.logger.Warnf("Bad transfer-meta from %s: %v", env.From, err)
			return nil
		}
		c.handleMeta(meta)
	case protocol.KindError:
		var msg protocol.ErrorMessage
		_ = env.Decode(&msg)
		c.logger.Warnf("Relay error: %s", msg.Message)
		c.events.Emit(Event{Err: fmt.Errorf("relay: %s", msg.Message), Type: EventRelayError})
	case protocol.KindDisconnected:
		c.logger.Warn("Relay is shutting down")
		c.Hangup()
		c.events.Emit(Event{Type: EventDisconnected})
		return ErrRelayDisconnected
	default:
		c.logger.Debugf("Ignoring %s envelope", env.Kind)
	}
	return nil
}

func (c *Call) handlePeerJoined(ev protocol.PeerEvent) {
	c.mu.Lock()
	if c.remote != "" && c.remote != ev.PeerID {
		c.mu.Unlock()
		c.logger.Warnf("Ignoring %s: already paired with %s", ev.PeerID, c.remote)
		return
	}
	c.remote = ev.PeerID
	c.remoteName = ev.Username
	c.mu.Unlock()

	c.logger.Infof("Peer %s (%s) is in the room", ev.PeerID, ev.Username)
	c.joinedOnce.Do(func() { close(c.joinedCh) })
	c.events.Emit(Event{PeerID: ev.PeerID, Type: EventPeerJoined, Username: ev.Username})
}

func (c *Call) handlePeerLeft(ev protocol.PeerEvent) {
	c.mu.Lock()
	if c.remote != ev.PeerID {
		c.mu.Unlock()
		return
	}
	c.remote = ""
	c.remoteName = ""
	e := c.engine
	c.mu.Unlock()

	c.logger.Infof("Peer %s left", ev.PeerID)
	if e != nil {
		e.Hangup()
	}
	c.events.Emit(Event{PeerID: ev.PeerID, Type: EventPeerLeft, Username: ev.Username})
}

// session returns the live engine for remote, replacing a session that
// ended or belongs to another peer.
func (c *Call) session(remote string) (*negotiation.Engine, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.mu.Lock()
	prev := c.engine
	if prev != nil && !prev.State().Terminal() && prev.RemotePeer() == remote {
		c.mu.Unlock()
		return prev, nil
	}
	c.mu.Unlock()

	if prev != nil {
		prev.Hangup()
	}

	pc, err := c.newConn()
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	e := negotiation.New(negotiation.Options{
		Connection: pc,
		Logger:     c.logger,
		RemotePeer: remote,
		Role:       negotiation.RoleFor(c.peerID, remote),
		Signaler:   c.link,
	})
	e.Subscribe(func(ev negotiation.Event) {
		switch ev.Type {
		case negotiation.EventStateChanged:
			c.events.Emit(Event{PeerID: remote, State: ev.State, Type: EventStateChanged})
		case negotiation.EventError:
			c.logger.Debugf("Session with %s: %v", remote, ev.Err)
			c.events.Emit(Event{Err: ev.Err, PeerID: remote, State: ev.State, Type: EventSessionError})
		}
	})
	e.OnChannel(func(ch transfer.Channel) { c.handleInboundChannel(remote, ch) })

	c.mu.Lock()
	c.engine = e
	c.remote = remote
	c.mu.Unlock()

	c.logger.Debugf("New %s session with %s", e.Role(), remote)
	return e, nil
}

func (c *Call) currentEngine() *negotiation.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

func (c *Call) engineFor(remote string) *negotiation.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil || c.engine.RemotePeer() != remote {
		c.logger.Debugf("No session with %s", remote)
		return nil
	}
	return c.engine
}

// State renders the current call state.
func (c *Call) State() State {
	c.mu.Lock()
	e, in, out := c.engine, c.inbound, c.outbound
	s := State{RemotePeer: c.remote, Result: c.result}
	c.mu.Unlock()

	s.NegotiationState = negotiation.StateIdle
	if e != nil {
		s.NegotiationState = e.State()
	}

	// Size, channel and rate follow the running transfer, the inbound one
	// when both directions are busy.
	s.ChannelReadyState = transfer.StateClosed
	var sampler *rate.Sampler
	if out != nil {
		s.BytesSent = out.sender.BytesTransferred()
		s.TotalSize = out.sender.TotalSize()
		s.ChannelReadyState = out.ch.ReadyState()
		sampler = out.sampler
	}
	if in != nil {
		s.BytesReceived = in.receiver.BytesTransferred()
		if out == nil || in.receiver.Status() == transfer.StatusActive {
			s.TotalSize = in.receiver.TotalSize()
			s.ChannelReadyState = in.ch.ReadyState()
			sampler = in.sampler
		}
	}

	if sampler != nil {
		s.InstantaneousRateKbps = sampler.Current()
		s.PeakRateKbps = sampler.Peak()
	}
	return s
}

// Hangup ends the session: it stops rate sampling, closes the transfer
// channels and closes the negotiation engine. It is safe to call at any time
// and more than once.
func (c *Call) Hangup() {
	c.mu.Lock()
	e, in, out := c.engine, c.inbound, c.outbound
	c.mu.Unlock()

	if out != nil {
		out.sampler.Stop()
		_ = out.ch.Close()
	}
	if in != nil {
		in.sampler.Stop()
		_ = in.ch.Close()
	}
	if e != nil {
		e.Hangup()
	}
}

// Close hangs up and closes the relay link.
func (c *Call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Hangup()
	return c.link.Close()
}
