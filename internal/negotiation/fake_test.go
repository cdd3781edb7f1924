package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer/transfertest"
)

type fakeConnection struct {
	name string

	mu            sync.Mutex
	applied       []string
	closed        int
	local         *protocol.SessionDescription
	offers        int
	remote        *protocol.SessionDescription
	rejectCands   bool
	rejectRemote  bool
	rollbacks     int
	tracks        []string
	candidateFn   func(*protocol.ICECandidate)
	channelFn     func(transfer.Channel)
	connectionFn  func(ConnectionState)
	createdLabels []string
}

func newFakeConnection(name string) *fakeConnection {
	return &fakeConnection{name: name}
}

func (f *fakeConnection) CreateOffer() (protocol.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: fmt.Sprintf("v=0\r\ns=%s-offer-%d\r\n", f.name, f.offers)}, nil
}

func (f *fakeConnection) CreateAnswer() (protocol.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return protocol.SessionDescription{}, errors.New("no remote description")
	}
	return protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: fmt.Sprintf("v=0\r\ns=%s-answer\r\n", f.name)}, nil
}

func (f *fakeConnection) SetLocalDescription(d protocol.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &d
	return nil
}

func (f *fakeConnection) SetRemoteDescription(d protocol.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectRemote {
		return errors.New("unparseable sdp")
	}
	if d.Type == protocol.SDPTypeOffer && f.local != nil && f.local.Type == protocol.SDPTypeOffer {
		return errors.New("have-local-offer: rollback first")
	}
	f.remote = &d
	return nil
}

func (f *fakeConnection) RollbackLocalDescription() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	f.local = nil
	return nil
}

func (f *fakeConnection) AddICECandidate(c protocol.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("candidate before remote description")
	}
	if f.rejectCands {
		return errors.New("bad candidate")
	}
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakeConnection) CreateChannel(label string) (transfer.Channel, error) {
	f.mu.Lock()
	f.createdLabels = append(f.createdLabels, label)
	f.mu.Unlock()
	out, _ := transfertest.Pipe(label)
	return out, nil
}

func (f *fakeConnection) AddTrack(src MediaSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, src.ID())
	return nil
}

func (f *fakeConnection) OnICECandidate(fn func(*protocol.ICECandidate)) { f.candidateFn = fn }
func (f *fakeConnection) OnConnectionStateChange(fn func(ConnectionState)) {
	f.connectionFn = fn
}
func (f *fakeConnection) OnChannel(fn func(transfer.Channel)) { f.channelFn = fn }

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConnection) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	copy(out, f.applied)
	return out
}

// queueSignaler records envelopes until the test delivers them.
type queueSignaler struct {
	mu   sync.Mutex
	err  error
	sent []protocol.Envelope
}

func (s *queueSignaler) Send(_ context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *queueSignaler) take() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

type fakeTrack struct{ id string }

func (t fakeTrack) ID() string       { return t.id }
func (t fakeTrack) Kind() MediaKind  { return MediaAudio }
func (t fakeTrack) StreamID() string { return "stream" }

// deliver hands env to e the way a call dispatcher would.
func deliver(e *Engine, env protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindOffer:
		d, err := env.Description()
		if err != nil {
			return err
		}
		return e.ReceiveRemoteOffer(context.Background(), d)
	case protocol.KindAnswer:
		d, err := env.Description()
		if err != nil {
			return err
		}
		return e.ReceiveRemoteAnswer(d)
	case protocol.KindCandidate:
		c, err := env.Candidate()
		if err != nil {
			return err
		}
		e.ReceiveRemoteCandidate(c)
		return nil
	default:
		return fmt.Errorf("unexpected kind %s", env.Kind)
	}
}

func candidate(s string) *protocol.ICECandidate {
	return &protocol.ICECandidate{Candidate: s}
}
