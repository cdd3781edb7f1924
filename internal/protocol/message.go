package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptySDP        = errors.New("protocol: empty sdp")
	ErrInvalidSDP      = errors.New("protocol: sdp does not start with v=0")
	ErrUnexpectedType  = errors.New("protocol: unexpected description type")
	ErrUnknownKind     = errors.New("protocol: unknown envelope kind")
	ErrMissingUsername = errors.New("protocol: join without username")
	ErrMissingRoom     = errors.New("protocol: join without room")
)

var nullPayload = json.RawMessage("null")

// Envelope is the unit exchanged with the relay. Payload stays raw until the
// receiver knows which type to decode it into.
type Envelope struct {
	From    string          `json:"from,omitempty"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	To      string          `json:"to,omitempty"`
}

func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if e.IsNull() {
		return fmt.Errorf("decode %s: empty payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

func (e Envelope) IsNull() bool {
	trimmed := bytes.TrimSpace(e.Payload)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullPayload)
}

// Description decodes an offer or answer payload.
func (e Envelope) Description() (SessionDescription, error) {
	var d SessionDescription
	err := e.Decode(&d)
	return d, err
}

// Candidate decodes a candidate payload. A nil candidate with a nil error is
// the end-of-candidates marker.
func (e Envelope) Candidate() (*ICECandidate, error) {
	if e.IsNull() {
		return nil, nil
	}
	var c ICECandidate
	if err := e.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

type Join struct {
	PeerID   string `json:"peerId,omitempty"`
	Room     string `json:"room"`
	Username string `json:"username"`
}

func (j Join) Validate() error {
	if strings.TrimSpace(j.Username) == "" {
		return ErrMissingUsername
	}
	if strings.TrimSpace(j.Room) == "" {
		return ErrMissingRoom
	}
	return nil
}

type PeerEvent struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username,omitempty"`
}

type SessionDescription struct {
	SDP  string  `json:"sdp"`
	Type SDPType `json:"type"`
}

// Validate checks the description has the wanted type and a plausible SDP
// body. It does not parse the SDP.
func (d SessionDescription) Validate(want SDPType) error {
	if d.Type != want {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, d.Type, want)
	}
	sdp := strings.TrimSpace(d.SDP)
	if sdp == "" {
		return ErrEmptySDP
	}
	if !strings.HasPrefix(sdp, "v=0") {
		return ErrInvalidSDP
	}
	return nil
}

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type TransferMeta struct {
	// Checksum is the hex SHA-256 of the file, empty when not computed.
	Checksum  string `json:"checksum,omitempty"`
	ChunkSize int    `json:"chunkSize"`
	Label     string `json:"label"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type Disconnected struct{}
