package event

import "testing"

func TestBusEmitOrder(t *testing.T) {
	var b Bus[int]
	var got []string

	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })
	b.Emit(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Expected [a b], got %v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	var b Bus[string]
	calls := 0

	cancel := b.Subscribe(func(string) { calls++ })
	b.Emit("x")
	cancel()
	cancel()
	b.Emit("y")

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Expected no listeners, got %d", b.Len())
	}
}

func TestBusSubscribeDuringEmit(t *testing.T) {
	var b Bus[int]
	inner := 0

	b.Subscribe(func(v int) {
		if v == 1 {
			b.Subscribe(func(int) { inner++ })
		}
	})

	b.Emit(1)
	if inner != 0 {
		t.Fatalf("Listener added during emit must not see the same value, got %d calls", inner)
	}

	b.Emit(2)
	if inner != 1 {
		t.Errorf("Expected 1 inner call, got %d", inner)
	}
}

func TestBusUnsubscribeMiddle(t *testing.T) {
	var b Bus[int]
	var got []int

	b.Subscribe(func(int) { got = append(got, 1) })
	cancel := b.Subscribe(func(int) { got = append(got, 2) })
	b.Subscribe(func(int) { got = append(got, 3) })

	cancel()
	b.Emit(0)

	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Expected [1 3], got %v", got)
	}
}
