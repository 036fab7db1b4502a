// Package arbiter serializes concurrent claim attempts per order and owns the
// order lifecycle state machine. The single-winner guarantee is ultimately
// enforced by the claim ledger's atomic write; everything held in memory here
// exists to keep doomed attempts away from storage and to publish transitions
// in order.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"exclusive-orders-backend/internal/event"
	"exclusive-orders-backend/internal/ledger"
	"exclusive-orders-backend/internal/metrics"
	"exclusive-orders-backend/internal/model"
	"exclusive-orders-backend/internal/policy"
	"exclusive-orders-backend/internal/sched"
)

var (
	// ErrAlreadyAdmitted means Admit was called twice for the same order ID.
	// The second call fails; the first admission is unaffected.
	ErrAlreadyAdmitted = errors.New("arbiter: order already admitted")
	// ErrInvalidOrder means the order payload violates the admission contract.
	ErrInvalidOrder = errors.New("arbiter: invalid order")
	// ErrUnknownOrder means the order was never admitted or has been pruned.
	ErrUnknownOrder = errors.New("arbiter: unknown order")
	// ErrAlreadyTerminal means a withdrawal hit an order that already
	// reached a final state.
	ErrAlreadyTerminal = errors.New("arbiter: order already in a terminal state")
)

// Config carries arbitration tunables.
type Config struct {
	Policy policy.Config
	// LedgerTimeout bounds the claim ledger round trip. An attempt that
	// outlives it is reported as a transient failure, never a win.
	LedgerTimeout time.Duration
}

// orderState is the per-order coordination record. Its mutex serializes the
// storage-write decision for one order; different orders proceed unimpeded.
type orderState struct {
	mu               sync.Mutex
	order            *model.Order
	claimInFlight    bool
	winner           string
	claimedPublished bool
}

// Arbiter coordinates claim races across all live orders.
type Arbiter struct {
	mu     sync.RWMutex
	orders map[string]*orderState

	claims ledger.Ledger
	store  ledger.OrderStore
	bus    *event.Bus
	sched  *sched.Scheduler
	cfg    Config

	now func() time.Time
}

// New creates an arbiter and binds it to the scheduler as its deadline
// handler.
func New(claims ledger.Ledger, store ledger.OrderStore, bus *event.Bus, scheduler *sched.Scheduler, cfg Config) *Arbiter {
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 3 * time.Second
	}
	a := &Arbiter{
		orders: make(map[string]*orderState),
		claims: claims,
		store:  store,
		bus:    bus,
		sched:  scheduler,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	scheduler.Bind(a)
	return a
}

func (a *Arbiter) lookup(orderID string) *orderState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.orders[orderID]
}

// Admit registers an exclusive order for arbitration, persists it and arms
// its deadlines. A duplicate or malformed admission fails without touching
// other orders.
func (a *Arbiter) Admit(ctx context.Context, o *model.Order) error {
	if o.ID == "" || !o.Kind.IsValid() || o.Kind == model.KindNone || o.ClaimWindowSeconds <= 0 {
		return fmt.Errorf("%w: id=%q kind=%q window=%d", ErrInvalidOrder, o.ID, o.Kind, o.ClaimWindowSeconds)
	}

	now := a.now()
	if o.VisibilityStart.IsZero() {
		o.VisibilityStart = now
	}
	if now.Before(o.VisibilityStart) {
		o.State = model.StatePendingVisibility
	} else {
		o.State = model.StateOpen
	}

	st := &orderState{order: o}
	a.mu.Lock()
	if _, exists := a.orders[o.ID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyAdmitted, o.ID)
	}
	a.orders[o.ID] = st
	a.mu.Unlock()

	if err := a.store.SaveOrder(ctx, o); err != nil {
		a.mu.Lock()
		delete(a.orders, o.ID)
		a.mu.Unlock()
		return err
	}

	metrics.OrdersAdmittedTotal.Inc()
	a.arm(o)

	if o.State == model.StateOpen {
		st.mu.Lock()
		a.bus.Publish(o.ID, event.KindBecameVisible, "")
		st.mu.Unlock()
	}
	return nil
}

// arm schedules every pending deadline for an order.
func (a *Arbiter) arm(o *model.Order) {
	if o.State == model.StatePendingVisibility {
		a.sched.Arm(o.ID, o.VisibilityStart, sched.KindOpen)
	}
	if o.DiamondOnlyUntil != nil && o.DiamondOnlyUntil.Before(o.ExpiresAt()) {
		a.sched.Arm(o.ID, *o.DiamondOnlyUntil, sched.KindDiamondLift)
	}
	a.sched.Arm(o.ID, o.ExpiresAt(), sched.KindExpire)
}

// Recover rebuilds the in-memory registry and deadline heap from the durable
// store's view of non-terminal orders. Deadlines that passed while the
// process was down fire immediately.
func (a *Arbiter) Recover(ctx context.Context) error {
	orders, err := a.store.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for i := range orders {
		o := orders[i]
		a.mu.Lock()
		if _, exists := a.orders[o.ID]; exists {
			a.mu.Unlock()
			continue
		}
		a.orders[o.ID] = &orderState{order: &o}
		a.mu.Unlock()
		a.arm(&o)
	}
	if len(orders) > 0 {
		log.Printf("Recovered %d non-terminal orders from the ledger", len(orders))
	}
	return nil
}

// AttemptClaim runs one courier's claim through eligibility, the fast local
// check and the ledger's atomic write. Exactly one attempt per order ever
// returns OutcomeWon. A non-nil error is a transient failure: the claim
// window keeps running and the courier may retry.
func (a *Arbiter) AttemptClaim(ctx context.Context, orderID, courierID string, tier model.CourierTier) (model.ClaimOutcome, error) {
	timer := prometheus.NewTimer(metrics.ClaimDuration)
	defer timer.ObserveDuration()

	st := a.lookup(orderID)
	if st == nil {
		return a.finish(model.OutcomeRejectedExpired), nil
	}

	now := a.now()

	st.mu.Lock()
	if st.order.State.Terminal() || !now.Before(st.order.ExpiresAt()) {
		st.mu.Unlock()
		return a.finish(model.OutcomeRejectedExpired), nil
	}
	if policy.Classify(st.order, tier, now, a.cfg.Policy) != policy.Claimable {
		st.mu.Unlock()
		return a.finish(model.OutcomeRejectedIneligible), nil
	}
	// Fast local check: someone already won, or another attempt is mid
	// flight against storage. Short-circuiting here is an optimization;
	// the ledger write below is what actually decides.
	if st.winner != "" || st.claimInFlight {
		st.mu.Unlock()
		return a.finish(model.OutcomeLost), nil
	}
	st.claimInFlight = true
	st.mu.Unlock()

	ledgerCtx, cancel := context.WithTimeout(ctx, a.cfg.LedgerTimeout)
	outcome, err := a.claims.TryAssign(ledgerCtx, orderID, courierID)
	cancel()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.claimInFlight = false

	if err != nil {
		// Ambiguity is surfaced, never guessed into a won/lost.
		metrics.ClaimLedgerErrorsTotal.Inc()
		return "", fmt.Errorf("claim for order %s unresolved: %w", orderID, err)
	}

	if st.order.State.Terminal() {
		// The expiry sealed the order while our write was in flight.
		if st.order.State == model.StateClaimed && st.winner == courierID {
			return a.finish(model.OutcomeWon), nil
		}
		if outcome == ledger.Assigned {
			log.Printf("order %s: claim by %s landed after the order was sealed %s", orderID, courierID, st.order.State)
		}
		return a.finish(model.OutcomeRejectedExpired), nil
	}

	switch outcome {
	case ledger.Assigned:
		a.sealClaimedLocked(st, courierID)
		return a.finish(model.OutcomeWon), nil
	default:
		// Another attempt already won. Make sure the Claimed event with
		// the actual winner goes out once the winner is known.
		if !st.claimedPublished {
			if winner, werr := a.claims.Winner(ctx, orderID); werr == nil {
				a.sealClaimedLocked(st, winner)
			}
		}
		return a.finish(model.OutcomeLost), nil
	}
}

// sealClaimedLocked transitions the order to CLAIMED and publishes the
// winner. Caller holds st.mu.
func (a *Arbiter) sealClaimedLocked(st *orderState, winner string) {
	st.order.State = model.StateClaimed
	st.winner = winner
	st.claimedPublished = true
	if err := a.store.UpdateOrderState(context.Background(), st.order.ID, model.StateClaimed); err != nil {
		// The assignment itself is durable; state catches up on recovery.
		log.Printf("failed to persist claimed state for order %s: %v", st.order.ID, err)
	}
	a.bus.Publish(st.order.ID, event.KindClaimed, winner)
	a.sched.Cancel(st.order.ID)
}

func (a *Arbiter) finish(outcome model.ClaimOutcome) model.ClaimOutcome {
	metrics.ClaimAttemptsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// Withdraw cancels an order on upstream request (order canceled, admin
// reset). Only non-terminal orders can be withdrawn.
func (a *Arbiter) Withdraw(ctx context.Context, orderID string) error {
	st := a.lookup(orderID)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.order.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, orderID, st.order.State)
	}
	if err := a.store.UpdateOrderState(ctx, orderID, model.StateWithdrawn); err != nil {
		return err
	}
	st.order.State = model.StateWithdrawn
	a.bus.Publish(orderID, event.KindWithdrawn, "")
	a.sched.Cancel(orderID)
	return nil
}

// HandleDeadline applies a time-driven transition. Late or duplicate fires
// against a terminal order are no-ops: the heap is allowed to be stale.
func (a *Arbiter) HandleDeadline(ctx context.Context, orderID string, kind sched.Kind) error {
	st := a.lookup(orderID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch kind {
	case sched.KindOpen:
		if st.order.State != model.StatePendingVisibility {
			return nil
		}
		if err := a.store.UpdateOrderState(ctx, orderID, model.StateOpen); err != nil {
			return err
		}
		st.order.State = model.StateOpen
		a.bus.Publish(orderID, event.KindBecameVisible, "")

	case sched.KindDiamondLift:
		// No state change: the window lift only widens who may claim.
		// Standard-tier couriers get no retroactive claim rights, just a
		// fresh visibility signal.
		if st.order.State == model.StateOpen {
			a.bus.Publish(orderID, event.KindBecameVisible, "")
		}

	case sched.KindExpire:
		if st.order.State.Terminal() {
			return nil
		}
		// The ledger, not the heap, decides whether the order was won.
		winner, err := a.claims.Winner(ctx, orderID)
		switch {
		case err == nil:
			a.sealClaimedLocked(st, winner)
		case errors.Is(err, ledger.ErrNoAssignment):
			if uerr := a.store.UpdateOrderState(ctx, orderID, model.StateExpired); uerr != nil {
				return uerr
			}
			st.order.State = model.StateExpired
			metrics.OrdersExpiredTotal.Inc()
			a.bus.Publish(orderID, event.KindExpired, "")
		default:
			return err
		}
	}
	return nil
}

// OrderView is one row of the courier-facing listing.
type OrderView struct {
	model.Order
	Locked    bool      `json:"locked"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Snapshot lists every order currently claimable or visible-locked for a
// tier, with mystery payouts masked until claimed.
func (a *Arbiter) Snapshot(tier model.CourierTier) []OrderView {
	now := a.now()

	a.mu.RLock()
	states := make([]*orderState, 0, len(a.orders))
	for _, st := range a.orders {
		states = append(states, st)
	}
	a.mu.RUnlock()

	views := make([]OrderView, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		o := *st.order
		st.mu.Unlock()

		c := policy.Classify(&o, tier, now, a.cfg.Policy)
		if c == policy.Hidden {
			continue
		}
		if o.PayoutHidden {
			o.DeliveryFeeCents = 0
			o.TipCents = 0
		}
		views = append(views, OrderView{
			Order:     o,
			Locked:    c == policy.VisibleLocked,
			ExpiresAt: o.ExpiresAt(),
		})
	}

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// State reports the current lifecycle state of an order.
func (a *Arbiter) State(orderID string) (model.LifecycleState, error) {
	st := a.lookup(orderID)
	if st == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.order.State, nil
}
