package negotiation

import (
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// RoleFor picks the initiator deterministically: the lower peer id offers.
func RoleFor(localID, remoteID string) Role {
	if localID < remoteID {
		return RoleInitiator
	}
	return RoleResponder
}

type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
)

func (k MediaKind) String() string {
	if k == MediaVideo {
		return "video"
	}
	return "audio"
}

// MediaSource describes a local track to send. Encoding is the backend's
// concern.
type MediaSource interface {
	ID() string
	Kind() MediaKind
	StreamID() string
}

// PeerConnection is the transport the engine drives. Descriptions and
// candidates are opaque to the engine.
type PeerConnection interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(desc protocol.SessionDescription) error
	SetRemoteDescription(desc protocol.SessionDescription) error
	RollbackLocalDescription() error
	AddICECandidate(c protocol.ICECandidate) error

	CreateChannel(label string) (transfer.Channel, error)
	AddTrack(src MediaSource) error

	OnICECandidate(fn func(c *protocol.ICECandidate))
	OnConnectionStateChange(fn func(s ConnectionState))
	OnChannel(fn func(ch transfer.Channel))

	Close() error
}

type EventType int

const (
	EventStateChanged EventType = iota
	EventLocalDescription
	EventCandidateApplied
	EventChannel
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventLocalDescription:
		return "local-description"
	case EventCandidateApplied:
		return "candidate-applied"
	case EventChannel:
		return "channel"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Candidate   *protocol.ICECandidate
	Channel     transfer.Channel
	Description *protocol.SessionDescription
	Err         error
	From        State
	State       State
	Type        EventType
}
