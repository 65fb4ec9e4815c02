// Package pubsub fans workflow run lifecycle events out to in-process
// listeners. Delivery is best effort: a listener that falls behind misses
// events, so nothing may rely on it as the record of queued work.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType describes what happened to a workflow run.
type EventType string

const (
	Enqueued  EventType = "enqueued"
	Completed EventType = "completed"
	Failed    EventType = "failed"
)

// Event wraps a typed payload with an event type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// Filter selects the events a subscription receives. A nil Filter accepts
// everything.
type Filter[T any] func(Event[T]) bool

// Types returns a Filter accepting only the listed event types.
func Types[T any](types ...EventType) Filter[T] {
	return func(evt Event[T]) bool {
		for _, t := range types {
			if evt.Type == t {
				return true
			}
		}
		return false
	}
}

const bufferSize = 64

type subscription[T any] struct {
	ch     chan Event[T]
	filter Filter[T]
}

// Broker is a thread-safe publish/subscribe hub for one payload type.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[*subscription[T]]struct{}
	dropped atomic.Uint64
}

// NewBroker creates an empty Broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[*subscription[T]]struct{})}
}

// Subscribe registers a listener for events accepted by filter. The channel
// is closed and the listener removed once ctx is done.
func (b *Broker[T]) Subscribe(ctx context.Context, filter Filter[T]) <-chan Event[T] {
	sub := &subscription[T]{ch: make(chan Event[T], bufferSize), filter: filter}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	})
	return sub.ch
}

// Publish delivers an event to every matching listener and returns how many
// took it. Listeners with a full buffer are skipped and counted in Dropped.
func (b *Broker[T]) Publish(eventType EventType, payload T) int {
	evt := Event[T]{Type: eventType, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of live listeners.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a listener's
// buffer was full.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}
