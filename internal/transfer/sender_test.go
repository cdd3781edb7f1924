package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/logger"
)

func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestChunkSizes(t *testing.T) {
	tests := []struct {
		size      int64
		chunkSize int
		want      []int
	}{
		{40000, 16384, []int{16384, 16384, 7232}},
		{16384, 16384, []int{16384}},
		{1, 16384, []int{1}},
		{32768, 16384, []int{16384, 16384}},
		{0, 16384, nil},
	}

	for _, tt := range tests {
		got := ChunkSizes(tt.size, tt.chunkSize)
		if len(got) != len(tt.want) {
			t.Errorf("ChunkSizes(%d, %d) = %v, want %v", tt.size, tt.chunkSize, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ChunkSizes(%d, %d) = %v, want %v", tt.size, tt.chunkSize, got, tt.want)
				break
			}
		}
	}
}

func TestSenderChunkSequence(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	s := NewSender(ch, Options{Logger: logger.Discard()})

	var progress []int64
	s.Subscribe(func(e Event) {
		if e.Type == EventProgress {
			progress = append(progress, e.Bytes)
		}
	})

	// Large low-water mark so the sender never waits.
	s.lowWater = 1 << 30

	payload := testPayload(40000)
	if err := s.Send(context.Background(), bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sizes := ch.sentSizes()
	want := []int{16384, 16384, 7232}
	if len(sizes) != len(want) {
		t.Fatalf("Expected chunk sizes %v, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("Expected chunk sizes %v, got %v", want, sizes)
		}
	}

	if !bytes.Equal(bytes.Join(ch.sent, nil), payload) {
		t.Error("Sent chunks do not reassemble into the payload")
	}
	if len(progress) != 3 || progress[2] != 40000 {
		t.Errorf("Unexpected progress sequence: %v", progress)
	}
	if s.Status() != StatusComplete || s.BytesTransferred() != 40000 {
		t.Errorf("Expected complete with 40000 bytes, got %s with %d", s.Status(), s.BytesTransferred())
	}
}

func TestSenderEmptyPayload(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	s := NewSender(ch, Options{Logger: logger.Discard()})

	err := s.Send(context.Background(), bytes.NewReader(nil), 0)
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("Expected ErrEmptyPayload, got %v", err)
	}
	if len(ch.sentSizes()) != 0 {
		t.Error("Expected nothing sent")
	}
	if ch.ReadyState() != StateOpen {
		t.Errorf("Expected channel to stay open, got %s", ch.ReadyState())
	}
	if s.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", s.Status())
	}
}

func TestSenderChannelNotReady(t *testing.T) {
	ch := newFakeChannel(StateConnecting)
	s := NewSender(ch, Options{Logger: logger.Discard()})

	err := s.Send(context.Background(), bytes.NewReader([]byte("x")), 1)
	if !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Expected ErrChannelNotReady, got %v", err)
	}
}

func TestSenderWaitsForLowWaterMark(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	ch.sentCh = make(chan int, 8)
	s := NewSender(ch, Options{ChunkSize: 10, LowWaterMark: 5, Logger: logger.Discard()})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), bytes.NewReader(testPayload(25)), 25)
	}()

	expectSend := func(want int) {
		t.Helper()
		select {
		case n := <-ch.sentCh:
			if n != want {
				t.Fatalf("Expected chunk of %d, got %d", want, n)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for chunk")
		}
	}
	expectBlocked := func() {
		t.Helper()
		select {
		case n := <-ch.sentCh:
			t.Fatalf("Sender did not wait for drain, sent %d more bytes", n)
		case <-time.After(50 * time.Millisecond):
		}
	}

	expectSend(10)
	expectBlocked()
	ch.drain()
	expectSend(10)
	expectBlocked()
	ch.drain()
	expectSend(5)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for Send to return")
	}
}

func TestSenderChannelClosedMidTransfer(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	ch.sentCh = make(chan int, 8)
	s := NewSender(ch, Options{ChunkSize: 10, LowWaterMark: 1, Logger: logger.Discard()})

	var aborted []error
	s.Subscribe(func(e Event) {
		if e.Type == EventAborted {
			aborted = append(aborted, e.Err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), bytes.NewReader(testPayload(100)), 100)
	}()

	<-ch.sentCh
	_ = ch.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelClosedDuringTransfer) {
			t.Fatalf("Expected ErrChannelClosedDuringTransfer, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for Send to return")
	}

	if s.Status() != StatusAborted {
		t.Errorf("Expected aborted, got %s", s.Status())
	}
	if s.BytesTransferred() != 10 {
		t.Errorf("Expected 10 bytes transferred, got %d", s.BytesTransferred())
	}
	if len(aborted) != 1 {
		t.Errorf("Expected one aborted event, got %d", len(aborted))
	}
}

func TestSenderContextCancelled(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	ch.sentCh = make(chan int, 8)
	s := NewSender(ch, Options{ChunkSize: 10, LowWaterMark: 1, Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(ctx, bytes.NewReader(testPayload(100)), 100)
	}()

	<-ch.sentCh
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for Send to return")
	}
	if s.Status() != StatusAborted {
		t.Errorf("Expected aborted, got %s", s.Status())
	}
}

func TestSenderShortReader(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	s := NewSender(ch, Options{Logger: logger.Discard()})

	err := s.Send(context.Background(), bytes.NewReader([]byte("abc")), 10)
	if err == nil {
		t.Fatal("Expected error for short payload")
	}
	if s.Status() != StatusAborted {
		t.Errorf("Expected aborted, got %s", s.Status())
	}
}

func TestSenderRejectsSecondSend(t *testing.T) {
	ch := newFakeChannel(StateOpen)
	s := NewSender(ch, Options{Logger: logger.Discard()})
	s.lowWater = 1 << 30

	if err := s.Send(context.Background(), bytes.NewReader([]byte("abc")), 3); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(context.Background(), bytes.NewReader([]byte("abc")), 3); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}
