package event

import "sync"

// Bus fans a value out to every subscribed listener in subscription order.
// The zero value is ready to use.
type Bus[T any] struct {
	listeners []listener[T]
	mu        sync.Mutex
	nextID    uint64
}

type listener[T any] struct {
	fn func(T)
	id uint64
}

// Subscribe registers fn and returns a function that removes it again.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener[T]{fn: fn, id: id})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Emit calls every listener with v. Listeners run on the caller's goroutine
// and never under the bus lock, so they may subscribe or emit themselves.
func (b *Bus[T]) Emit(v T) {
	b.mu.Lock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Bus[T]) Clear() {
	b.mu.Lock()
	b.listeners = nil
	b.mu.Unlock()
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}
