package webrtc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

// forwarder hands envelopes to the remote engine from a single goroutine so
// they arrive in send order.
type forwarder struct {
	queue chan protocol.Envelope
}

func newForwarder() *forwarder {
	return &forwarder{queue: make(chan protocol.Envelope, 64)}
}

func (f *forwarder) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case f.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *forwarder) run(t *testing.T, e *negotiation.Engine, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-f.queue:
			switch env.Kind {
			case protocol.KindOffer:
				d, _ := env.Description()
				if err := e.ReceiveRemoteOffer(context.Background(), d); err != nil {
					t.Errorf("ReceiveRemoteOffer failed: %v", err)
				}
			case protocol.KindAnswer:
				d, _ := env.Description()
				if err := e.ReceiveRemoteAnswer(d); err != nil {
					t.Errorf("ReceiveRemoteAnswer failed: %v", err)
				}
			case protocol.KindCandidate:
				c, err := env.Candidate()
				if err != nil {
					t.Errorf("Candidate decode failed: %v", err)
					continue
				}
				e.ReceiveRemoteCandidate(c)
			}
		}
	}
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Options{Configuration: webrtc.Configuration{}, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tr
}

func TestLoopbackTransfer(t *testing.T) {
	trA, trB := newTestTransport(t), newTestTransport(t)

	pcA, err := trA.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	pcB, err := trB.NewConnection()
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}

	toB, toA := newForwarder(), newForwarder()
	a := negotiation.New(negotiation.Options{Connection: pcA, Logger: logger.Discard(), RemotePeer: "b", Role: negotiation.RoleInitiator, Signaler: toB})
	b := negotiation.New(negotiation.Options{Connection: pcB, Logger: logger.Discard(), RemotePeer: "a", Role: negotiation.RoleResponder, Signaler: toA})
	defer a.Hangup()
	defer b.Hangup()

	done := make(chan struct{})
	defer close(done)
	go toB.run(t, b, done)
	go toA.run(t, a, done)

	inbound := make(chan transfer.Channel, 1)
	b.OnChannel(func(ch transfer.Channel) { inbound <- ch })

	out, err := a.AttachChannel("file-1")
	if err != nil {
		t.Fatalf("AttachChannel failed: %v", err)
	}
	if err := a.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := transfer.WaitOpen(ctx, out); err != nil {
		t.Fatalf("Outbound channel never opened: %v", err)
	}

	var in transfer.Channel
	select {
	case in = <-inbound:
	case <-ctx.Done():
		t.Fatal("No inbound channel")
	}
	if in.Label() != "file-1" || in.Direction() != transfer.Inbound {
		t.Errorf("Unexpected inbound channel %q %s", in.Label(), in.Direction())
	}

	payload := make([]byte, 40000)
	for i := range payload {
		payload[i] = byte(i)
	}

	recv := transfer.NewReceiver(in, int64(len(payload)), transfer.Options{Logger: logger.Discard()})
	result := make(chan []byte, 1)
	recv.Subscribe(func(ev transfer.Event) {
		if ev.Type == transfer.EventComplete {
			result <- ev.Payload
		}
	})

	sender := transfer.NewSender(out, transfer.Options{Logger: logger.Discard()})
	if err := sender.Send(ctx, bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-result:
		if len(got) != len(payload) {
			t.Fatalf("Expected %d bytes, got %d", len(payload), len(got))
		}
		for i := range got {
			if got[i] != payload[i] {
				t.Fatalf("Byte %d differs", i)
			}
		}
	case <-ctx.Done():
		t.Fatal("Transfer never completed")
	}

	if a.State() != negotiation.StateConnected {
		t.Errorf("Expected initiator connected, got %s", a.State())
	}
}

func TestDefaultSTUNConfig(t *testing.T) {
	cfg := DefaultSTUNConfig()
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != len(DefaultSTUNServers) {
		t.Errorf("Unexpected default ICE servers %+v", cfg.ICEServers)
	}

	cfg = DefaultSTUNConfig("stun:example.org:3478")
	if got := cfg.ICEServers[0].URLs; len(got) != 1 || got[0] != "stun:example.org:3478" {
		t.Errorf("Expected custom server, got %v", got)
	}
}

func TestDescriptionConversion(t *testing.T) {
	d := protocol.SessionDescription{SDP: "v=0\r\n", Type: protocol.SDPTypeAnswer}
	if got := fromPion(toPion(d)); got != d {
		t.Errorf("Expected %+v, got %+v", d, got)
	}
}
