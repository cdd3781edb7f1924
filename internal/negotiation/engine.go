package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/sirupsen/logrus"
)

const candidateSendTimeout = 10 * time.Second

// Signaler delivers envelopes to the remote peer through the relay.
type Signaler interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

type Options struct {
	Connection PeerConnection
	Logger     *logrus.Logger
	RemotePeer string
	Role       Role
	Signaler   Signaler
}

// Engine runs the offer/answer/candidate exchange for one session with one
// remote peer. It never holds its lock while calling the connection, the
// signaler or event listeners.
type Engine struct {
	events     event.Bus[Event]
	logger     *logrus.Logger
	pc         PeerConnection
	remotePeer string
	role       Role
	signaler   Signaler

	// applyMu orders remote description application against candidate
	// application so queued candidates are applied before later arrivals.
	applyMu sync.Mutex

	mu               sync.Mutex
	capabilities     int
	channels         []transfer.Channel
	localDesc        *protocol.SessionDescription
	offerOutstanding bool
	pending          []protocol.ICECandidate
	remoteDesc       *protocol.SessionDescription
	state            State
	transportUp      bool
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	e := &Engine{
		logger:     opts.Logger,
		pc:         opts.Connection,
		remotePeer: opts.RemotePeer,
		role:       opts.Role,
		signaler:   opts.Signaler,
	}

	e.pc.OnICECandidate(e.handleLocalCandidate)
	e.pc.OnConnectionStateChange(e.handleConnectionState)
	e.pc.OnChannel(e.handleInboundChannel)
	return e
}

func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.events.Subscribe(fn)
}

// StartCall sends the first offer. At least one channel or track must be
// attached beforehand.
func (e *Engine) StartCall(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("start call while %s: %w", state, ErrInvalidState)
	}
	if e.capabilities == 0 {
		e.mu.Unlock()
		return ErrNoLocalCapability
	}
	e.state = StateNegotiating
	e.mu.Unlock()

	e.emitState(StateIdle, StateNegotiating)
	return e.sendOffer(ctx, StateIdle)
}

// RestartNegotiation sends a new offer on a connected session, for example
// after a channel or track was attached.
func (e *Engine) RestartNegotiation(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateConnected {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("restart negotiation while %s: %w", state, ErrInvalidState)
	}
	e.state = StateNegotiating
	e.mu.Unlock()

	e.emitState(StateConnected, StateNegotiating)
	return e.sendOffer(ctx, StateConnected)
}

func (e *Engine) sendOffer(ctx context.Context, fallback State) error {
	desc, err := e.pc.CreateOffer()
	if err != nil {
		e.revert(fallback)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(desc); err != nil {
		e.revert(fallback)
		return fmt.Errorf("set local offer: %w", err)
	}

	e.mu.Lock()
	if e.state != StateNegotiating {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	e.localDesc = &desc
	e.offerOutstanding = true
	e.mu.Unlock()

	e.logger.Debugf("Sending offer to %s", e.remotePeer)
	e.events.Emit(Event{Description: &desc, State: StateNegotiating, Type: EventLocalDescription})
	return e.signal(ctx, protocol.KindOffer, desc)
}

// ReceiveRemoteOffer answers an offer from the remote peer. An offer that
// crosses our own outstanding offer is resolved by role: the initiator keeps
// its offer and reports GlareDetected, the responder rolls back and answers.
func (e *Engine) ReceiveRemoteOffer(ctx context.Context, desc protocol.SessionDescription) error {
	if err := desc.Validate(protocol.SDPTypeOffer); err != nil {
		return e.malformed(err)
	}

	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	glare := e.state == StateNegotiating && e.offerOutstanding
	if glare && e.role == RoleInitiator {
		e.mu.Unlock()
		e.logger.Warnf("Glare with %s: keeping local offer, discarding remote offer", e.remotePeer)
		e.events.Emit(Event{Err: ErrGlareDetected, State: StateNegotiating, Type: EventError})
		return ErrGlareDetected
	}
	prev := e.state
	e.state = StateNegotiating
	e.mu.Unlock()

	e.emitState(prev, StateNegotiating)

	if glare {
		e.logger.Infof("Glare with %s: rolling back local offer", e.remotePeer)
		if err := e.pc.RollbackLocalDescription(); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		e.mu.Lock()
		e.localDesc = nil
		e.offerOutstanding = false
		e.mu.Unlock()
	}

	if err := e.applyRemote(desc); err != nil {
		e.revert(prev)
		return e.malformed(err)
	}

	answer, err := e.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	e.mu.Lock()
	if e.state != StateNegotiating {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	e.localDesc = &answer
	e.mu.Unlock()

	e.logger.Debugf("Sending answer to %s", e.remotePeer)
	e.events.Emit(Event{Description: &answer, State: StateNegotiating, Type: EventLocalDescription})
	if err := e.signal(ctx, protocol.KindAnswer, answer); err != nil {
		return err
	}

	e.settle()
	return nil
}

// ReceiveRemoteAnswer applies the answer to our outstanding offer.
func (e *Engine) ReceiveRemoteAnswer(desc protocol.SessionDescription) error {
	if err := desc.Validate(protocol.SDPTypeAnswer); err != nil {
		return e.malformed(err)
	}

	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	if e.state != StateNegotiating || !e.offerOutstanding {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("answer while %s without an outstanding offer: %w", state, ErrInvalidState)
	}
	e.mu.Unlock()

	if err := e.applyRemote(desc); err != nil {
		return e.malformed(err)
	}

	e.settle()
	return nil
}

// ReceiveRemoteCandidate queues c until a remote description is set, then
// applies it. Failures are logged and never change the session state. A nil
// candidate marks the end of the remote candidates.
func (e *Engine) ReceiveRemoteCandidate(c *protocol.ICECandidate) {
	if c == nil {
		e.logger.Debugf("End of candidates from %s", e.remotePeer)
		return
	}

	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		e.logger.Debugf("Ignoring candidate from %s on %s session", e.remotePeer, e.state)
		return
	}
	if e.remoteDesc == nil {
		e.pending = append(e.pending, *c)
		n := len(e.pending)
		e.mu.Unlock()
		e.logger.Debugf("Queued candidate from %s (%d pending)", e.remotePeer, n)
		return
	}
	e.mu.Unlock()

	e.applyMu.Lock()
	e.applyCandidate(*c)
	e.applyMu.Unlock()
}

func (e *Engine) applyRemote(desc protocol.SessionDescription) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	e.mu.Lock()
	e.remoteDesc = &desc
	if desc.Type == protocol.SDPTypeAnswer {
		e.offerOutstanding = false
	}
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		e.applyCandidate(c)
	}
	return nil
}

func (e *Engine) applyCandidate(c protocol.ICECandidate) {
	if err := e.pc.AddICECandidate(c); err != nil {
		e.logger.Warnf("Failed to add candidate from %s: %v", e.remotePeer, err)
		return
	}
	e.events.Emit(Event{Candidate: &c, State: e.State(), Type: EventCandidateApplied})
}

// TransportReady marks the underlying transport as connected.
func (e *Engine) TransportReady() {
	e.mu.Lock()
	e.transportUp = true
	if e.state != StateNegotiating {
		e.mu.Unlock()
		return
	}
	e.state = StateConnected
	e.mu.Unlock()

	e.logger.Infof("Connected to %s", e.remotePeer)
	e.emitState(StateNegotiating, StateConnected)
}

// settle returns a renegotiating session to Connected once no offer is
// outstanding and the transport is already up.
func (e *Engine) settle() {
	e.mu.Lock()
	if e.state != StateNegotiating || !e.transportUp || e.offerOutstanding {
		e.mu.Unlock()
		return
	}
	e.state = StateConnected
	e.mu.Unlock()

	e.emitState(StateNegotiating, StateConnected)
}

// Hangup closes the session and everything it owns. It is safe to call from
// any state and more than once; a failed session stays Failed.
func (e *Engine) Hangup() {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	prev := e.state
	channels := e.closeLocked(StateClosed)
	e.mu.Unlock()

	e.logger.Infof("Hung up session with %s", e.remotePeer)
	e.release(channels)
	e.emitState(prev, StateClosed)
}

// FatalTransportError fails an active session. Failed is terminal.
func (e *Engine) FatalTransportError(err error) {
	if !errors.Is(err, signaling.ErrFatal) {
		err = &signaling.TransportError{Err: err, Op: "transport"}
	}

	e.mu.Lock()
	if e.state != StateNegotiating && e.state != StateConnected {
		e.mu.Unlock()
		return
	}
	prev := e.state
	channels := e.closeLocked(StateFailed)
	e.mu.Unlock()

	e.logger.Errorf("Session with %s failed: %v", e.remotePeer, err)
	e.release(channels)
	e.events.Emit(Event{Err: err, State: StateFailed, Type: EventError})
	e.emitState(prev, StateFailed)
}

func (e *Engine) closeLocked(next State) []transfer.Channel {
	channels := e.channels
	e.channels = nil
	e.offerOutstanding = false
	e.pending = nil
	e.state = next
	return channels
}

func (e *Engine) release(channels []transfer.Channel) {
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			e.logger.Debugf("Failed to close channel %s: %v", ch.Label(), err)
		}
	}
	if err := e.pc.Close(); err != nil {
		e.logger.Debugf("Failed to close peer connection: %v", err)
	}
}

// AttachChannel opens an outbound channel. Attaching to a connected session
// requires a RestartNegotiation before the remote side sees the channel.
func (e *Engine) AttachChannel(label string) (transfer.Channel, error) {
	if e.State().Terminal() {
		return nil, ErrSessionClosed
	}

	ch, err := e.pc.CreateChannel(label)
	if err != nil {
		return nil, fmt.Errorf("create channel %s: %w", label, err)
	}

	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		_ = ch.Close()
		return nil, ErrSessionClosed
	}
	e.capabilities++
	e.channels = append(e.channels, ch)
	e.mu.Unlock()

	e.logger.Debugf("Attached channel %s", label)
	return ch, nil
}

func (e *Engine) AttachTrack(src MediaSource) error {
	if e.State().Terminal() {
		return ErrSessionClosed
	}

	if err := e.pc.AddTrack(src); err != nil {
		return fmt.Errorf("add %s track %s: %w", src.Kind(), src.ID(), err)
	}

	e.mu.Lock()
	e.capabilities++
	e.mu.Unlock()

	e.logger.Debugf("Attached %s track %s", src.Kind(), src.ID())
	return nil
}

// OnChannel registers fn for channels opened by the remote peer.
func (e *Engine) OnChannel(fn func(transfer.Channel)) func() {
	return e.events.Subscribe(func(ev Event) {
		if ev.Type == EventChannel {
			fn(ev.Channel)
		}
	})
}

func (e *Engine) handleInboundChannel(ch transfer.Channel) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		_ = ch.Close()
		return
	}
	e.channels = append(e.channels, ch)
	state := e.state
	e.mu.Unlock()

	e.logger.Debugf("Remote peer %s opened channel %s", e.remotePeer, ch.Label())
	e.events.Emit(Event{Channel: ch, State: state, Type: EventChannel})
}

func (e *Engine) handleLocalCandidate(c *protocol.ICECandidate) {
	if e.State().Terminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), candidateSendTimeout)
	defer cancel()

	if err := e.signal(ctx, protocol.KindCandidate, c); err != nil {
		e.logger.Warnf("Failed to send candidate to %s: %v", e.remotePeer, err)
	}
}

func (e *Engine) handleConnectionState(s ConnectionState) {
	e.logger.Debugf("Connection to %s is %s", e.remotePeer, s)

	switch s {
	case ConnectionConnected:
		e.TransportReady()
	case ConnectionFailed:
		e.FatalTransportError(&signaling.TransportError{Err: errors.New("peer connection failed"), Op: "connect"})
	case ConnectionDisconnected:
		e.logger.Warnf("Connection to %s interrupted", e.remotePeer)
	}
}

func (e *Engine) signal(ctx context.Context, kind protocol.Kind, payload any) error {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	env.To = e.remotePeer

	if err := e.signaler.Send(ctx, env); err != nil {
		if errors.Is(err, signaling.ErrFatal) {
			e.FatalTransportError(err)
		}
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (e *Engine) malformed(err error) error {
	e.logger.Warnf("Rejecting description from %s: %v", e.remotePeer, err)
	return &Error{Err: err, Kind: MalformedDescription}
}

func (e *Engine) revert(to State) {
	e.mu.Lock()
	if e.state != StateNegotiating {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	e.emitState(StateNegotiating, to)
}

func (e *Engine) emitState(from, to State) {
	if from == to {
		return
	}
	e.logger.Debugf("Session with %s: %s -> %s", e.remotePeer, from, to)
	e.events.Emit(Event{From: from, State: to, Type: EventStateChanged})
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Role() Role {
	return e.role
}

func (e *Engine) RemotePeer() string {
	return e.remotePeer
}

func (e *Engine) LocalDescription() *protocol.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.localDesc == nil {
		return nil
	}
	d := *e.localDesc
	return &d
}

func (e *Engine) RemoteDescription() *protocol.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteDesc == nil {
		return nil
	}
	d := *e.remoteDesc
	return &d
}

func (e *Engine) PendingCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) Channels() []transfer.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]transfer.Channel, len(e.channels))
	copy(out, e.channels)
	return out
}
