package call

import (
	"errors"

	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

var (
	ErrMessageTooLong    = errors.New("call: message too long")
	ErrNoPeer            = errors.New("call: no remote peer in the room")
	ErrRelayDisconnected = errors.New("call: relay disconnected")
	ErrTransferActive    = errors.New("call: a transfer in this direction is already running")
)

type EventType int

const (
	EventPeerJoined EventType = iota
	EventPeerLeft
	EventStateChanged
	EventProgress
	EventTransferComplete
	EventTransferAborted
	EventRelayError
	EventDisconnected
	EventSessionError
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventStateChanged:
		return "state-changed"
	case EventProgress:
		return "progress"
	case EventTransferComplete:
		return "transfer-complete"
	case EventTransferAborted:
		return "transfer-aborted"
	case EventRelayError:
		return "relay-error"
	case EventDisconnected:
		return "disconnected"
	case EventSessionError:
		return "session-error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is what a Call reports to its user. Transfer is set on the
// progress, complete and aborted events. Err carries the cause on relay,
// session and aborted events.
type Event struct {
	Err      error
	Name     string
	PeerID   string
	Result   *Result
	State    negotiation.State
	// Text is the body of a message event.
	Text     string
	Transfer transfer.Event
	Type     EventType
	Username string
}

// Result is a fully received file.
type Result struct {
	Data []byte
	Name string
	Size int64
}

// State is the observable surface of a call.
type State struct {
	BytesReceived         int64
	BytesSent             int64
	ChannelReadyState     transfer.ReadyState
	InstantaneousRateKbps int64
	NegotiationState      negotiation.State
	PeakRateKbps          int64
	RemotePeer            string
	Result                *Result
	TotalSize             int64
}
