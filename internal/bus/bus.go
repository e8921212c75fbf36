// Package bus fans events out to subscribers synchronously.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	pkgLog "twodo/pkg/log"
)

type subscriber[E any] struct {
	id   string
	name string
	fn   func(E)
}

// Bus delivers every published event to all current subscribers, in
// subscription order, before Publish returns.
type Bus[E any] struct {
	l    pkgLog.Logger
	mu   sync.RWMutex
	subs []subscriber[E]
}

func New[E any](l pkgLog.Logger) *Bus[E] {
	if l == nil {
		l = pkgLog.NewNop()
	}
	return &Bus[E]{l: l}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID     string
	cancel func()
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers fn under a descriptive name used in logs.
func (b *Bus[E]) Subscribe(name string, fn func(E)) Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs = append(b.subs, subscriber[E]{id: id, name: name, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return Subscription{ID: id, cancel: func() {
		once.Do(func() { b.remove(id) })
	}}
}

func (b *Bus[E]) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every subscriber with e. A panicking subscriber is logged
// and skipped; the rest still receive the event.
func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	subs := make([]subscriber[E], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus[E]) deliver(s subscriber[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			b.l.Errorf(context.Background(), "bus: subscriber %q panicked: %v", s.name, r)
		}
	}()
	s.fn(e)
}

func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
