package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/sirupsen/logrus"
)

// connection adapts a pion peer connection to negotiation.PeerConnection.
type connection struct {
	candidates event.Bus[*protocol.ICECandidate]
	channels   event.Bus[transfer.Channel]
	logger     *logrus.Logger
	pc         *webrtc.PeerConnection
	states     event.Bus[negotiation.ConnectionState]

	mu     sync.Mutex
	opened []*dataChannel
}

func newConnection(pc *webrtc.PeerConnection, logger *logrus.Logger) *connection {
	c := &connection{logger: logger, pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			c.candidates.Emit(nil)
			return
		}
		init := cand.ToJSON()
		c.candidates.Emit(&protocol.ICECandidate{
			Candidate:        init.Candidate,
			SDPMLineIndex:    init.SDPMLineIndex,
			SDPMid:           init.SDPMid,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debugf("Peer connection state %s", s)
		c.states.Emit(connectionState(s))
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Debugf("Inbound data channel %q", dc.Label())
		c.channels.Emit(c.track(newDataChannel(dc, transfer.Inbound)))
	})

	return c
}

func connectionState(s webrtc.PeerConnectionState) negotiation.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectionClosed
	default:
		return negotiation.ConnectionNew
	}
}

func toPion(d protocol.SessionDescription) webrtc.SessionDescription {
	desc := webrtc.SessionDescription{SDP: d.SDP, Type: webrtc.SDPTypeOffer}
	if d.Type == protocol.SDPTypeAnswer {
		desc.Type = webrtc.SDPTypeAnswer
	}
	return desc
}

func fromPion(d webrtc.SessionDescription) protocol.SessionDescription {
	desc := protocol.SessionDescription{SDP: d.SDP, Type: protocol.SDPTypeOffer}
	if d.Type == webrtc.SDPTypeAnswer {
		desc.Type = protocol.SDPTypeAnswer
	}
	return desc
}

func (c *connection) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return fromPion(offer), nil
}

func (c *connection) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return fromPion(answer), nil
}

func (c *connection) SetLocalDescription(d protocol.SessionDescription) error {
	if err := c.pc.SetLocalDescription(toPion(d)); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return nil
}

func (c *connection) SetRemoteDescription(d protocol.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(toPion(d)); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (c *connection) RollbackLocalDescription() error {
	if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return fmt.Errorf("failed to roll back local description: %w", err)
	}
	return nil
}

func (c *connection) AddICECandidate(cand protocol.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMLineIndex:    cand.SDPMLineIndex,
		SDPMid:           cand.SDPMid,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *connection) CreateChannel(label string) (transfer.Channel, error) {
	dc, err := c.pc.CreateDataChannel(label, DefaultDataChannelConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return c.track(newDataChannel(dc, transfer.Outbound)), nil
}

func (c *connection) AddTrack(src negotiation.MediaSource) error {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	if src.Kind() == negotiation.MediaVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}

	track, err := webrtc.NewTrackLocalStaticSample(codec, src.ID(), src.StreamID())
	if err != nil {
		return fmt.Errorf("failed to create %s track: %w", src.Kind(), err)
	}
	if _, err := c.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add %s track: %w", src.Kind(), err)
	}
	return nil
}

func (c *connection) OnICECandidate(fn func(*protocol.ICECandidate)) {
	c.candidates.Subscribe(fn)
}

func (c *connection) OnConnectionStateChange(fn func(negotiation.ConnectionState)) {
	c.states.Subscribe(fn)
}

func (c *connection) OnChannel(fn func(transfer.Channel)) {
	c.channels.Subscribe(fn)
}

func (c *connection) track(dc *dataChannel) *dataChannel {
	c.mu.Lock()
	c.opened = append(c.opened, dc)
	c.mu.Unlock()
	return dc
}

func (c *connection) Close() error {
	c.mu.Lock()
	opened := c.opened
	c.opened = nil
	c.mu.Unlock()

	for _, dc := range opened {
		_ = dc.Close()
	}
	return c.pc.Close()
}
