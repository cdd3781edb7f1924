package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts the envelope into a protobuf Struct for binary framing.
func (e Envelope) ToStruct() (*structpb.Struct, error) {
	var payload any
	if !e.IsNull() {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
	}

	return structpb.NewStruct(map[string]any{
		"from":    e.From,
		"kind":    string(e.Kind),
		"payload": payload,
		"to":      e.To,
	})
}

func FromStruct(s *structpb.Struct) (Envelope, error) {
	m := s.AsMap()

	kind, _ := m["kind"].(string)
	if !Kind(kind).Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	from, _ := m["from"].(string)
	to, _ := m["to"].(string)

	raw, err := json.Marshal(m["payload"])
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	return Envelope{From: from, Kind: Kind(kind), Payload: raw, To: to}, nil
}

// WriteFrame writes a 4-byte big-endian length followed by the protobuf
// encoding of the envelope.
func WriteFrame(w io.Writer, e Envelope) error {
	s, err := e.ToStruct()
	if err != nil {
		return err
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(data), MaxFrameSize)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	_, err = w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Envelope{}, fmt.Errorf("frame of %d bytes exceeds %d", n, MaxFrameSize)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, err
	}

	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return FromStruct(&s)
}
