package transfertest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

func TestPipeTransfer(t *testing.T) {
	out, in := Pipe("file-1")

	opts := transfer.Options{ChunkSize: 1000, LowWaterMark: 2000, Logger: logger.Discard()}
	r := transfer.NewReceiver(in, 25000, opts)

	done := make(chan []byte, 1)
	r.Subscribe(func(e transfer.Event) {
		if e.Type == transfer.EventComplete {
			done <- e.Payload
		}
	})

	out.Open()

	payload := make([]byte, 25000)
	for i := range payload {
		payload[i] = byte(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := transfer.NewSender(out, opts)
	if err := s.Send(ctx, bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-done:
		if !bytes.Equal(got, payload) {
			t.Error("Received payload differs")
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for completion")
	}

	if len(out.Sent()) != 25 {
		t.Errorf("Expected 25 chunks, got %d", len(out.Sent()))
	}

	deadline := time.After(2 * time.Second)
	for out.ReadyState() != transfer.StateClosed {
		select {
		case <-deadline:
			t.Fatal("Receiver did not close the channel")
		case <-time.After(time.Millisecond):
		}
	}
}
