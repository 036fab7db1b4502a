// Package sched drives every time-based lifecycle transition: visibility
// starts, diamond-window lifts and expiries. A single goroutine sleeps until
// the earliest deadline in a min-heap, fires it, and re-arms. The heap is an
// optimization, not a source of truth: late or duplicate fires against a
// terminal order are no-ops in the arbiter, and on restart the heap is
// rebuilt from durable order fields.
package sched

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"exclusive-orders-backend/internal/metrics"
)

// Kind distinguishes what a deadline does when it fires.
type Kind string

const (
	// KindOpen transitions a scheduled order from pending visibility to open.
	KindOpen Kind = "open"
	// KindDiamondLift re-evaluates visibility for the standard tier.
	KindDiamondLift Kind = "diamond_lift"
	// KindExpire forfeits an unclaimed order.
	KindExpire Kind = "expire"
)

// Handler receives due deadlines. A returned error means the transition could
// not be applied; the scheduler retries it with backoff.
type Handler interface {
	HandleDeadline(ctx context.Context, orderID string, kind Kind) error
}

type entry struct {
	orderID  string
	kind     Kind
	at       time.Time
	attempts int
}

type deadlineHeap []*entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

const (
	baseRetryBackoff = time.Second
	maxRetryBackoff  = 30 * time.Second
	idleSleep        = time.Minute
)

// Scheduler owns the deadline heap. Arm and Cancel are safe to call
// concurrently with the running loop.
type Scheduler struct {
	mu       sync.Mutex
	heap     deadlineHeap
	pending  map[string]int
	canceled map[string]struct{}
	wake     chan struct{}
	handler  Handler
}

// New creates a scheduler with no handler bound yet.
func New() *Scheduler {
	s := &Scheduler{
		pending:  make(map[string]int),
		canceled: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	heap.Init(&s.heap)
	return s
}

// Bind attaches the deadline handler. Must be called before Run.
func (s *Scheduler) Bind(h Handler) {
	s.handler = h
}

// Arm schedules a deadline. Deadlines already in the past fire on the next
// loop iteration.
func (s *Scheduler) Arm(orderID string, at time.Time, kind Kind) {
	s.mu.Lock()
	delete(s.canceled, orderID)
	heap.Push(&s.heap, &entry{orderID: orderID, kind: kind, at: at})
	s.pending[orderID]++
	s.mu.Unlock()
	s.kick()
}

// Cancel drops all deadlines for an order. Removal is lazy: entries stay in
// the heap and are discarded when popped.
func (s *Scheduler) Cancel(orderID string) {
	s.mu.Lock()
	if s.pending[orderID] > 0 {
		s.canceled[orderID] = struct{}{}
	}
	s.mu.Unlock()
}

// Pending reports the number of live deadlines for an order.
func (s *Scheduler) Pending(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[orderID]
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes deadlines until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("Expiry scheduler started")
	timer := time.NewTimer(idleSleep)
	defer timer.Stop()

	for {
		sleep := s.fireDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			log.Println("Expiry scheduler shutting down")
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// fireDue pops and handles every due entry, then returns how long to sleep
// until the next one.
func (s *Scheduler) fireDue(ctx context.Context) time.Duration {
	for {
		now := time.Now()

		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return idleSleep
		}
		next := s.heap[0]
		if next.at.After(now) {
			s.mu.Unlock()
			return time.Until(next.at)
		}

		e := heap.Pop(&s.heap).(*entry)
		s.pending[e.orderID]--
		if s.pending[e.orderID] <= 0 {
			delete(s.pending, e.orderID)
		}
		_, dropped := s.canceled[e.orderID]
		if dropped && s.pending[e.orderID] == 0 {
			delete(s.canceled, e.orderID)
		}
		s.mu.Unlock()

		if dropped {
			continue
		}

		if err := s.handler.HandleDeadline(ctx, e.orderID, e.kind); err != nil {
			backoff := baseRetryBackoff << e.attempts
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			metrics.SchedulerRearmFailuresTotal.Inc()
			log.Printf("deadline %s for order %s failed (attempt %d): %v; retrying in %s",
				e.kind, e.orderID, e.attempts+1, err, backoff)

			s.mu.Lock()
			e.at = now.Add(backoff)
			e.attempts++
			heap.Push(&s.heap, e)
			s.pending[e.orderID]++
			s.mu.Unlock()
		}
	}
}
