package protocol

const (
	MaxFrameSize = 1024 * 1024
)

// Kind names the purpose of a signaling envelope.
type Kind string

const (
	KindAnswer       Kind = "answer"
	KindCandidate    Kind = "candidate"
	KindDisconnected Kind = "disconnected"
	KindError        Kind = "error"
	KindJoin         Kind = "join"
	KindOffer        Kind = "offer"
	KindPeerJoined   Kind = "peer-joined"
	KindPeerLeft     Kind = "peer-left"
	KindTransferMeta Kind = "transfer-meta"
)

func (k Kind) String() string {
	switch k {
	case KindAnswer:
		return "ANSWER"
	case KindCandidate:
		return "CANDIDATE"
	case KindDisconnected:
		return "DISCONNECTED"
	case KindError:
		return "ERROR"
	case KindJoin:
		return "JOIN"
	case KindOffer:
		return "OFFER"
	case KindPeerJoined:
		return "PEER_JOINED"
	case KindPeerLeft:
		return "PEER_LEFT"
	case KindTransferMeta:
		return "TRANSFER_META"
	default:
		return "UNKNOWN"
	}
}

func (k Kind) Valid() bool {
	return k.String() != "UNKNOWN"
}

// Forwarded reports whether the relay passes this kind from one peer to the
// other rather than consuming or producing it itself.
func (k Kind) Forwarded() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindTransferMeta:
		return true
	default:
		return false
	}
}

type SDPType string

const (
	SDPTypeAnswer SDPType = "answer"
	SDPTypeOffer  SDPType = "offer"
)
