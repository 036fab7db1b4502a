package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exclusive-orders-backend/internal/event"
	"exclusive-orders-backend/internal/ledger"
	"exclusive-orders-backend/internal/model"
	"exclusive-orders-backend/internal/policy"
	"exclusive-orders-backend/internal/sched"
)

// fakeLedger is an in-memory claim ledger with injectable latency and
// failures.
type fakeLedger struct {
	mu          sync.Mutex
	assignments map[string]string
	delay       time.Duration
	failures    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{assignments: make(map[string]string)}
}

func (l *fakeLedger) TryAssign(ctx context.Context, orderID, courierID string) (ledger.AssignOutcome, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return ledger.AlreadyAssigned, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return ledger.AlreadyAssigned, assert.AnError
	}
	if _, taken := l.assignments[orderID]; taken {
		return ledger.AlreadyAssigned, nil
	}
	l.assignments[orderID] = courierID
	return ledger.Assigned, nil
}

func (l *fakeLedger) Winner(_ context.Context, orderID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	winner, ok := l.assignments[orderID]
	if !ok {
		return "", ledger.ErrNoAssignment
	}
	return winner, nil
}

// fakeStore is an in-memory order store.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]model.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]model.Order)}
}

func (s *fakeStore) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	return nil
}

func (s *fakeStore) UpdateOrderState(_ context.Context, orderID string, state model.LifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	o.State = state
	s.orders[orderID] = o
	return nil
}

func (s *fakeStore) OpenOrders(_ context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if !o.State.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return &o, nil
}

type testRig struct {
	arb    *Arbiter
	claims *fakeLedger
	store  *fakeStore
	bus    *event.Bus
	events <-chan event.Event
	clock  time.Time
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	rig := &testRig{
		claims: newFakeLedger(),
		store:  newFakeStore(),
		bus:    event.NewBus(),
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rig.arb = New(rig.claims, rig.store, rig.bus, sched.New(), cfg)
	rig.arb.now = func() time.Time { return rig.clock }

	events, cancel := rig.bus.Subscribe(256)
	t.Cleanup(cancel)
	rig.events = events
	return rig
}

func (r *testRig) advance(d time.Duration) {
	r.clock = r.clock.Add(d)
}

func (r *testRig) drainEvents() []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func arenaOrder(id string, windowSeconds int) *model.Order {
	return &model.Order{
		ID:                 id,
		Kind:               model.KindArena,
		ClaimWindowSeconds: windowSeconds,
	}
}

func TestAttemptClaim_SingleWinner(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 10)))

	const couriers = 8
	outcomes := make([]model.ClaimOutcome, couriers)

	var wg sync.WaitGroup
	for i := 0; i < couriers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := rig.arb.AttemptClaim(context.Background(), "o-1", string(rune('A'+n)), model.TierStandard)
			require.NoError(t, err)
			outcomes[n] = out
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, out := range outcomes {
		switch out {
		case model.OutcomeWon:
			won++
		case model.OutcomeLost:
			lost++
		default:
			t.Fatalf("unexpected outcome %q", out)
		}
	}
	assert.Equal(t, 1, won, "exactly one courier must win")
	assert.Equal(t, couriers-1, lost)
	assert.Len(t, rig.claims.assignments, 1, "exactly one assignment in the ledger")

	state, err := rig.arb.State("o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateClaimed, state)
}

func TestAttemptClaim_SingleWinnerWithLedgerLatency(t *testing.T) {
	rig := newTestRig(t, Config{LedgerTimeout: time.Second})
	rig.claims.delay = 20 * time.Millisecond
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 10)))

	var wg sync.WaitGroup
	var won int32
	var wonMu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := rig.arb.AttemptClaim(context.Background(), "o-1", string(rune('A'+n)), model.TierStandard)
			require.NoError(t, err)
			if out == model.OutcomeWon {
				wonMu.Lock()
				won++
				wonMu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, won)
}

func TestAttemptClaim_VaultNeverClaimableForStandard(t *testing.T) {
	rig := newTestRig(t, Config{})
	o := &model.Order{ID: "vault-1", Kind: model.KindVault, ClaimWindowSeconds: 3600}
	require.NoError(t, rig.arb.Admit(context.Background(), o))

	out, err := rig.arb.AttemptClaim(context.Background(), "vault-1", "std-courier", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedIneligible, out)

	out, err = rig.arb.AttemptClaim(context.Background(), "vault-1", "prem-courier", model.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, out)
}

func TestAttemptClaim_DiamondWindowBoundaries(t *testing.T) {
	rig := newTestRig(t, Config{})
	liftAt := rig.clock.Add(90 * time.Second)
	o := &model.Order{
		ID:                 "hot-1",
		Kind:               model.KindHotspot,
		DiamondOnlyUntil:   &liftAt,
		ClaimWindowSeconds: 600,
	}
	require.NoError(t, rig.arb.Admit(context.Background(), o))

	// One second before the lift the standard courier is rejected.
	rig.clock = liftAt.Add(-time.Second)
	out, err := rig.arb.AttemptClaim(context.Background(), "hot-1", "std", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedIneligible, out)

	// One second after the lift the same courier is admitted to the race.
	rig.clock = liftAt.Add(time.Second)
	out, err = rig.arb.AttemptClaim(context.Background(), "hot-1", "std", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, out)
}

func TestAttemptClaim_PremiumInsideDiamondWindow(t *testing.T) {
	rig := newTestRig(t, Config{})
	liftAt := rig.clock.Add(90 * time.Second)
	o := &model.Order{
		ID:                 "hot-2",
		Kind:               model.KindHotspot,
		DiamondOnlyUntil:   &liftAt,
		ClaimWindowSeconds: 600,
	}
	require.NoError(t, rig.arb.Admit(context.Background(), o))

	rig.clock = liftAt.Add(-time.Second)
	out, err := rig.arb.AttemptClaim(context.Background(), "hot-2", "prem", model.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, out)
}

func TestAttemptClaim_NoLateWin(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 10)))

	rig.advance(11 * time.Second)
	out, err := rig.arb.AttemptClaim(context.Background(), "o-1", "late", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedExpired, out)
	assert.Empty(t, rig.claims.assignments, "no assignment may be created after expiry")
}

func TestAttemptClaim_UnknownOrderIsExpired(t *testing.T) {
	rig := newTestRig(t, Config{})
	out, err := rig.arb.AttemptClaim(context.Background(), "ghost", "c", model.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedExpired, out)
}

func TestAttemptClaim_LedgerFailureIsTransient(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 60)))
	rig.claims.failures = 1

	_, err := rig.arb.AttemptClaim(context.Background(), "o-1", "first", model.TierStandard)
	assert.Error(t, err, "a ledger failure must surface, never resolve to won or lost")

	// The window keeps running; a later attempt still succeeds.
	out, err := rig.arb.AttemptClaim(context.Background(), "o-1", "second", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, out)
}

func TestAttemptClaim_LostPublishesActualWinner(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 60)))
	rig.drainEvents()

	// The assignment already exists durably (for instance written by
	// another instance); this process has not seen the claim yet.
	rig.claims.assignments["o-1"] = "other-instance-courier"

	out, err := rig.arb.AttemptClaim(context.Background(), "o-1", "local", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeLost, out)

	events := rig.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindClaimed, events[0].Kind)
	assert.Equal(t, "other-instance-courier", events[0].Winner)
}

func TestAdmit_Validation(t *testing.T) {
	rig := newTestRig(t, Config{})

	assert.ErrorIs(t, rig.arb.Admit(context.Background(), &model.Order{Kind: model.KindArena, ClaimWindowSeconds: 10}), ErrInvalidOrder)
	assert.ErrorIs(t, rig.arb.Admit(context.Background(), &model.Order{ID: "x", Kind: model.KindNone, ClaimWindowSeconds: 10}), ErrInvalidOrder)
	assert.ErrorIs(t, rig.arb.Admit(context.Background(), &model.Order{ID: "x", Kind: model.KindArena}), ErrInvalidOrder)

	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("dup", 10)))
	err := rig.arb.Admit(context.Background(), arenaOrder("dup", 10))
	assert.ErrorIs(t, err, ErrAlreadyAdmitted)

	// The failed admissions must not corrupt the first one.
	state, serr := rig.arb.State("dup")
	require.NoError(t, serr)
	assert.Equal(t, model.StateOpen, state)
}

func TestAdmit_PendingVisibility(t *testing.T) {
	rig := newTestRig(t, Config{})
	o := arenaOrder("sched-1", 30)
	o.VisibilityStart = rig.clock.Add(time.Minute)
	require.NoError(t, rig.arb.Admit(context.Background(), o))

	state, err := rig.arb.State("sched-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingVisibility, state)
	assert.Empty(t, rig.drainEvents(), "no visibility event before the window opens")

	rig.advance(time.Minute)
	require.NoError(t, rig.arb.HandleDeadline(context.Background(), "sched-1", sched.KindOpen))

	state, err = rig.arb.State("sched-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, state)

	events := rig.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindBecameVisible, events[0].Kind)
}

func TestHandleDeadline_ExpiryIsIdempotent(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 10)))
	rig.drainEvents()

	rig.advance(11 * time.Second)
	require.NoError(t, rig.arb.HandleDeadline(context.Background(), "o-1", sched.KindExpire))
	require.NoError(t, rig.arb.HandleDeadline(context.Background(), "o-1", sched.KindExpire))

	state, err := rig.arb.State("o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, state)

	events := rig.drainEvents()
	require.Len(t, events, 1, "a duplicate timer fire must have no side effects")
	assert.Equal(t, event.KindExpired, events[0].Kind)
}

func TestHandleDeadline_ExpirySealsLedgerWinner(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 10)))
	rig.drainEvents()

	// The claim landed durably but this process never saw the attempt.
	rig.claims.assignments["o-1"] = "courier-x"

	rig.advance(11 * time.Second)
	require.NoError(t, rig.arb.HandleDeadline(context.Background(), "o-1", sched.KindExpire))

	state, err := rig.arb.State("o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateClaimed, state)

	events := rig.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindClaimed, events[0].Kind)
	assert.Equal(t, "courier-x", events[0].Winner)
}

func TestHandleDeadline_DiamondLiftRepublishesVisibility(t *testing.T) {
	rig := newTestRig(t, Config{})
	liftAt := rig.clock.Add(90 * time.Second)
	o := &model.Order{ID: "hot-1", Kind: model.KindHotspot, DiamondOnlyUntil: &liftAt, ClaimWindowSeconds: 600}
	require.NoError(t, rig.arb.Admit(context.Background(), o))
	rig.drainEvents()

	rig.clock = liftAt
	require.NoError(t, rig.arb.HandleDeadline(context.Background(), "hot-1", sched.KindDiamondLift))

	events := rig.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindBecameVisible, events[0].Kind)
}

func TestWithdraw(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("o-1", 60)))
	rig.drainEvents()

	require.NoError(t, rig.arb.Withdraw(context.Background(), "o-1"))

	state, err := rig.arb.State("o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateWithdrawn, state)

	events := rig.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindWithdrawn, events[0].Kind)

	assert.ErrorIs(t, rig.arb.Withdraw(context.Background(), "o-1"), ErrAlreadyTerminal)
	assert.ErrorIs(t, rig.arb.Withdraw(context.Background(), "nope"), ErrUnknownOrder)

	out, err := rig.arb.AttemptClaim(context.Background(), "o-1", "c", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedExpired, out)
}

func TestSnapshot(t *testing.T) {
	rig := newTestRig(t, Config{Policy: policy.Config{ShowLockedOrders: true}})
	liftAt := rig.clock.Add(90 * time.Second)

	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("plain", 600)))
	require.NoError(t, rig.arb.Admit(context.Background(), &model.Order{
		ID: "locked", Kind: model.KindHotspot, DiamondOnlyUntil: &liftAt, ClaimWindowSeconds: 600,
	}))
	require.NoError(t, rig.arb.Admit(context.Background(), &model.Order{
		ID: "vault", Kind: model.KindVault, ClaimWindowSeconds: 600,
	}))
	require.NoError(t, rig.arb.Admit(context.Background(), &model.Order{
		ID: "mystery", Kind: model.KindMystery, ClaimWindowSeconds: 600,
		PayoutHidden: true, DeliveryFeeCents: 1250, TipCents: 500,
	}))

	std := rig.arb.Snapshot(model.TierStandard)
	ids := make(map[string]OrderView, len(std))
	for _, v := range std {
		ids[v.ID] = v
	}
	assert.Contains(t, ids, "plain")
	assert.Contains(t, ids, "locked")
	assert.NotContains(t, ids, "vault", "vault orders are never listed for standard tier")
	assert.True(t, ids["locked"].Locked)
	assert.False(t, ids["plain"].Locked)
	assert.Zero(t, ids["mystery"].DeliveryFeeCents, "mystery payout stays hidden")
	assert.Zero(t, ids["mystery"].TipCents)

	prem := rig.arb.Snapshot(model.TierPremium)
	ids = make(map[string]OrderView, len(prem))
	for _, v := range prem {
		ids[v.ID] = v
	}
	assert.Contains(t, ids, "vault")
	assert.False(t, ids["locked"].Locked, "premium tier is not locked out")
}

func TestRecover(t *testing.T) {
	rig := newTestRig(t, Config{})
	now := rig.clock
	rig.store.orders["o-1"] = model.Order{
		ID: "o-1", Kind: model.KindHotspot, ClaimWindowSeconds: 600,
		VisibilityStart: now.Add(-time.Minute), State: model.StateOpen,
	}
	rig.store.orders["done"] = model.Order{
		ID: "done", Kind: model.KindHotspot, ClaimWindowSeconds: 600,
		VisibilityStart: now.Add(-time.Hour), State: model.StateClaimed,
	}

	require.NoError(t, rig.arb.Recover(context.Background()))

	state, err := rig.arb.State("o-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, state)

	_, err = rig.arb.State("done")
	assert.ErrorIs(t, err, ErrUnknownOrder, "terminal orders are not re-registered")

	out, err := rig.arb.AttemptClaim(context.Background(), "o-1", "c", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWon, out)
}

// The concrete race from the product scenario: an arena order with a ten
// second window, two couriers claiming at t=3, a third at t=11.
func TestArenaScenario(t *testing.T) {
	rig := newTestRig(t, Config{})
	require.NoError(t, rig.arb.Admit(context.Background(), arenaOrder("O1", 10)))

	rig.advance(3 * time.Second)
	var outcomes [2]model.ClaimOutcome
	var wg sync.WaitGroup
	for i, courier := range []string{"A", "B"} {
		wg.Add(1)
		go func(n int, c string) {
			defer wg.Done()
			out, err := rig.arb.AttemptClaim(context.Background(), "O1", c, model.TierStandard)
			require.NoError(t, err)
			outcomes[n] = out
		}(i, courier)
	}
	wg.Wait()

	winners := 0
	for _, out := range outcomes {
		if out == model.OutcomeWon {
			winners++
		} else {
			assert.Equal(t, model.OutcomeLost, out)
		}
	}
	assert.Equal(t, 1, winners)

	rig.advance(8 * time.Second) // t = 11
	out, err := rig.arb.AttemptClaim(context.Background(), "O1", "C", model.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejectedExpired, out)
}
