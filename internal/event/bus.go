// Package event fans lifecycle transitions out to subscribed courier
// sessions. Delivery is at-least-once to live subscribers; consumers must
// treat a repeated terminal event for the same order as a no-op. Anyone
// offline at publish time reconciles by re-querying state on reconnect.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"exclusive-orders-backend/internal/metrics"
)

// Kind is a lifecycle transition type.
type Kind string

const (
	KindBecameVisible Kind = "became_visible"
	KindClaimed       Kind = "claimed"
	KindExpired       Kind = "expired"
	KindWithdrawn     Kind = "withdrawn"
)

// Event is one lifecycle transition for one order. Seq is per-order and
// strictly increasing, so consumers can discard stale duplicates.
type Event struct {
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Kind    Kind      `json:"kind"`
	Winner  string    `json:"winner,omitempty"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
}

// Bus is an in-process publish/subscribe channel. Publishes for the same
// order are serialized by the caller (the arbiter holds the order lock),
// which is what gives the per-order ordering guarantee; publishes across
// orders run concurrently.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextSub int
	seq     map[string]uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		seq:  make(map[string]uint64),
	}
}

// Publish stamps the event and delivers it to every live subscriber. A
// subscriber whose buffer is full has the event dropped: blocking one
// order's publisher on a stuck session is worse than a gap the session
// gateway will reconcile on reconnect.
func (b *Bus) Publish(orderID string, kind Kind, winner string) Event {
	b.mu.Lock()
	b.seq[orderID]++
	ev := Event{
		ID:      uuid.NewString(),
		OrderID: orderID,
		Kind:    kind,
		Winner:  winner,
		Seq:     b.seq[orderID],
		At:      time.Now().UTC(),
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDroppedTotal.Inc()
		}
	}
	b.mu.Unlock()
	return ev
}

// Subscribe registers a consumer with the given buffer size and returns its
// channel plus a cancel function. Cancel closes the channel; consumers must
// stop reading after calling it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
