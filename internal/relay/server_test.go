package relay

import (
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

func startServer(t *testing.T, tcp bool) *Server {
	t.Helper()
	cfg := Config{Addr: "127.0.0.1:0", Logger: logger.Discard()}
	if tcp {
		cfg.TCPAddr = "127.0.0.1:0"
	}

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go func() { _ = s.Start(context.Background()) }()
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func dial(t *testing.T, s *Server) signaling.Link {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := signaling.Dial(ctx, s.URL(), signaling.DialOptions{Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func send(t *testing.T, l signaling.Link, kind protocol.Kind, payload any, to string) {
	t.Helper()
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	env.To = to
	if err := l.Send(context.Background(), env); err != nil {
		t.Fatalf("Send %s failed: %v", kind, err)
	}
}

func join(t *testing.T, l signaling.Link, peerID, username string) {
	t.Helper()
	send(t, l, protocol.KindJoin, protocol.Join{PeerID: peerID, Room: "lobby", Username: username}, "")
}

func expect(t *testing.T, l signaling.Link, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-l.Recv():
		if !ok {
			t.Fatalf("Link closed waiting for %s: %v", kind, l.Err())
		}
		if env.Kind != kind {
			t.Fatalf("Expected %s, got %s (%s)", kind, env.Kind, env.Payload)
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for %s", kind)
	}
	return protocol.Envelope{}
}

func peerEvent(t *testing.T, env protocol.Envelope) protocol.PeerEvent {
	t.Helper()
	var ev protocol.PeerEvent
	if err := env.Decode(&ev); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return ev
}

func TestPairing(t *testing.T) {
	s := startServer(t, false)
	a, b := dial(t, s), dial(t, s)

	join(t, a, "peer-a", "alice")
	// a joins first, so only b is told about an existing member.
	time.Sleep(50 * time.Millisecond)
	join(t, b, "peer-b", "bob")

	if ev := peerEvent(t, expect(t, a, protocol.KindPeerJoined)); ev.PeerID != "peer-b" || ev.Username != "bob" {
		t.Errorf("a got unexpected peer-joined %+v", ev)
	}
	if ev := peerEvent(t, expect(t, b, protocol.KindPeerJoined)); ev.PeerID != "peer-a" || ev.Username != "alice" {
		t.Errorf("b got unexpected peer-joined %+v", ev)
	}
}

func TestThirdMemberRejected(t *testing.T) {
	s := startServer(t, false)
	a, b, c := dial(t, s), dial(t, s), dial(t, s)

	join(t, a, "peer-a", "alice")
	join(t, b, "peer-b", "bob")
	expect(t, a, protocol.KindPeerJoined)

	join(t, c, "peer-c", "carol")
	env := expect(t, c, protocol.KindError)

	var msg protocol.ErrorMessage
	if err := env.Decode(&msg); err != nil || msg.Message == "" {
		t.Errorf("Expected an error message, got %+v (%v)", msg, err)
	}
}

func TestFirstMessageMustBeJoin(t *testing.T) {
	s := startServer(t, false)
	a := dial(t, s)

	send(t, a, protocol.KindOffer, protocol.SessionDescription{SDP: "v=0", Type: protocol.SDPTypeOffer}, "")
	expect(t, a, protocol.KindError)
}

func TestForwardSetsFrom(t *testing.T) {
	s := startServer(t, false)
	a, b := dial(t, s), dial(t, s)

	join(t, a, "peer-a", "alice")
	join(t, b, "peer-b", "bob")
	expect(t, a, protocol.KindPeerJoined)
	expect(t, b, protocol.KindPeerJoined)

	send(t, a, protocol.KindOffer, protocol.SessionDescription{SDP: "v=0\r\n", Type: protocol.SDPTypeOffer}, "peer-b")
	env := expect(t, b, protocol.KindOffer)
	if env.From != "peer-a" {
		t.Errorf("Expected from peer-a, got %q", env.From)
	}

	// No To means every other member of the room.
	send(t, b, protocol.KindCandidate, nil, "")
	env = expect(t, a, protocol.KindCandidate)
	if env.From != "peer-b" || !env.IsNull() {
		t.Errorf("Unexpected candidate envelope %+v", env)
	}
}

func TestForwardWithoutRecipient(t *testing.T) {
	s := startServer(t, false)
	a := dial(t, s)

	join(t, a, "peer-a", "alice")
	send(t, a, protocol.KindOffer, protocol.SessionDescription{SDP: "v=0\r\n", Type: protocol.SDPTypeOffer}, "")
	expect(t, a, protocol.KindError)
}

func TestPeerLeft(t *testing.T) {
	s := startServer(t, false)
	a, b := dial(t, s), dial(t, s)

	join(t, a, "peer-a", "alice")
	join(t, b, "peer-b", "bob")
	expect(t, a, protocol.KindPeerJoined)
	expect(t, b, protocol.KindPeerJoined)

	_ = b.Close()
	if ev := peerEvent(t, expect(t, a, protocol.KindPeerLeft)); ev.PeerID != "peer-b" {
		t.Errorf("Expected peer-b to leave, got %+v", ev)
	}

	// The slot is free again.
	c := dial(t, s)
	join(t, c, "peer-c", "carol")
	expect(t, c, protocol.KindPeerJoined)
}

func TestAssignsPeerID(t *testing.T) {
	s := startServer(t, false)
	a, b := dial(t, s), dial(t, s)

	join(t, a, "peer-a", "alice")
	join(t, b, "", "bob")
	if ev := peerEvent(t, expect(t, a, protocol.KindPeerJoined)); ev.PeerID == "" {
		t.Error("Expected the relay to assign a peer id")
	}
}

func TestTCPListener(t *testing.T) {
	s := startServer(t, true)
	if s.TCPAddr() == "" {
		t.Fatal("Expected a TCP address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := signaling.DialTCP(ctx, s.TCPAddr(), signaling.DialOptions{Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer func() { _ = a.Close() }()
	b := dial(t, s)

	join(t, a, "peer-a", "alice")
	join(t, b, "peer-b", "bob")
	expect(t, a, protocol.KindPeerJoined)
	expect(t, b, protocol.KindPeerJoined)

	send(t, b, protocol.KindAnswer, protocol.SessionDescription{SDP: "v=0\r\n", Type: protocol.SDPTypeAnswer}, "peer-a")
	if env := expect(t, a, protocol.KindAnswer); env.From != "peer-b" {
		t.Errorf("Expected from peer-b, got %q", env.From)
	}
}

func TestShutdownDisconnects(t *testing.T) {
	s := startServer(t, false)
	a := dial(t, s)

	join(t, a, "peer-a", "alice")
	time.Sleep(50 * time.Millisecond)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	expect(t, a, protocol.KindDisconnected)
}
