// Package events provides the typed publish/subscribe bus each pipeline
// component uses to report what it did.
package events

import "sync"

// Bus delivers events of type E synchronously to every subscriber, in the
// caller's goroutine. Handlers run outside the bus lock so they may
// subscribe, unsubscribe or call back into the publisher.
type Bus[E any] struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]func(E)
}

func NewBus[E any]() *Bus[E] {
	return &Bus[E]{handlers: make(map[uint64]func(E))}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus[E]) Subscribe(h func(E)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	if len(b.handlers) == 0 {
		b.mu.RUnlock()
		return
	}
	hs := make([]func(E), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

// Clear removes every subscriber.
func (b *Bus[E]) Clear() {
	b.mu.Lock()
	b.handlers = make(map[uint64]func(E))
	b.mu.Unlock()
}

func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
