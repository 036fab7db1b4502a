// Package ledger is the durable side of claim arbitration. TryAssign is the
// only operation in the subsystem allowed to create an Assignment, and it is
// a single conditional write: no read-then-write sequence is acceptable.
package ledger

import (
	"context"
	"errors"

	"exclusive-orders-backend/internal/model"
)

// AssignOutcome is the result of an atomic claim write.
type AssignOutcome int

const (
	// Assigned means this caller created the assignment and won the race.
	Assigned AssignOutcome = iota
	// AlreadyAssigned means another courier's write got there first.
	AlreadyAssigned
)

// ErrNoAssignment is returned by Winner when no courier has claimed the order.
var ErrNoAssignment = errors.New("ledger: no assignment for order")

// Ledger exposes the atomic single-winner claim primitive. Errors are
// transient from the arbiter's point of view: the claim window keeps running
// and a later attempt may still succeed.
type Ledger interface {
	// TryAssign atomically records courierID as the winner for orderID
	// unless an assignment already exists. Two concurrent callers for the
	// same order must never both observe Assigned.
	TryAssign(ctx context.Context, orderID, courierID string) (AssignOutcome, error)

	// Winner returns the courier that holds the assignment for orderID,
	// or ErrNoAssignment.
	Winner(ctx context.Context, orderID string) (string, error)
}

// OrderStore persists order lifecycle state so the expiry schedule can be
// rebuilt from durable fields after a restart.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *model.Order) error
	UpdateOrderState(ctx context.Context, orderID string, state model.LifecycleState) error
	// OpenOrders returns every order not yet in a terminal state.
	OpenOrders(ctx context.Context) ([]model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}
