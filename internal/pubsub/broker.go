package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 64

// Broker fans events out to every live subscription. Publish never blocks:
// a subscriber that falls a full buffer behind misses events, and the miss
// is counted in Dropped.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event[T]
	nextID uint64
	buffer int
	closed bool
	stop   chan struct{}

	dropped atomic.Uint64
}

// NewBroker creates a broker whose subscriptions buffer 64 events.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriptions buffer size
// events. Zero makes every subscription unbuffered.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:   make(map[uint64]chan Event[T]),
		buffer: max(size, 0),
		stop:   make(chan struct{}),
	}
}

// Subscribe returns a channel of future events. It is closed when ctx ends
// or the broker is closed; subscribing to a closed broker returns a closed
// channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.buffer)
	if b.closed {
		close(ch)
		return ch
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(id)
		case <-b.stop:
		}
	}()
	return ch
}

func (b *Broker[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish stamps payload and delivers it to every subscriber with room.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	event := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stop)
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Forward delivers every event from ch to fn until ch is closed or ctx ends.
// It blocks; run it in its own goroutine when streaming is wanted.
func Forward[T any](ctx context.Context, ch <-chan Event[T], fn func(Event[T])) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fn(event)
		}
	}
}
