// Package authevents broadcasts session loss to the rest of the application.
//
// The only event is SessionExpired: the stored credentials were cleared
// because refresh failed terminally, and the user must authenticate again.
// Subscribers are notified synchronously, in subscription order, once per
// Publish. Late subscribers do not see earlier events.
package authevents

import (
	"context"
	"slices"
	"sync"

	"github.com/go-authgate/api-client/logging"
)

// Handler reacts to SessionExpired.
type Handler func()

// Bus is a publish/subscribe channel for SessionExpired. The zero value is
// not usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Handler
	logger logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report subscriber panics.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New returns a Bus with no subscribers.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]Handler),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish notifies every current subscriber that the session expired.
// A panicking subscriber is logged and does not stop the others.
func (b *Bus) Publish(ctx context.Context) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	for _, h := range handlers {
		b.notify(ctx, h)
	}
}

func (b *Bus) notify(ctx context.Context, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "session expired subscriber panicked", "panic", r)
		}
	}()
	h()
}
