package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"exclusive-orders-backend/internal/model"
)

// GormStore implements Ledger and OrderStore on a relational database. The
// single-winner guarantee rests on the unique primary key of the assignments
// table: the insert carries ON CONFLICT DO NOTHING, so of any number of
// concurrent writers exactly one sees a row actually created.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed ledger and order store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for collaborators that manage their own
// tables (push subscriptions).
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// TryAssign performs the insert-if-absent claim write.
func (s *GormStore) TryAssign(ctx context.Context, orderID, courierID string) (AssignOutcome, error) {
	assignment := model.Assignment{
		OrderID:    orderID,
		CourierID:  courierID,
		AcceptedAt: time.Now().UTC(),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(&assignment)
	if res.Error != nil {
		return AlreadyAssigned, fmt.Errorf("claim write for order %s failed: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return AlreadyAssigned, nil
	}
	return Assigned, nil
}

// Winner returns the courier holding the assignment for orderID.
func (s *GormStore) Winner(ctx context.Context, orderID string) (string, error) {
	var assignment model.Assignment
	err := s.db.WithContext(ctx).First(&assignment, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoAssignment
	}
	if err != nil {
		return "", fmt.Errorf("winner lookup for order %s failed: %w", orderID, err)
	}
	return assignment.CourierID, nil
}

// SaveOrder upserts the order's durable fields.
func (s *GormStore) SaveOrder(ctx context.Context, o *model.Order) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "diamond_only_until", "claim_window_seconds",
			"visibility_start", "state", "payout_hidden", "batch_id",
			"delivery_fee_cents", "tip_cents", "updated_at",
		}),
	}).Create(o).Error
	if err != nil {
		return fmt.Errorf("save order %s failed: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderState records a lifecycle transition.
func (s *GormStore) UpdateOrderState(ctx context.Context, orderID string, state model.LifecycleState) error {
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("state", state).Error
	if err != nil {
		return fmt.Errorf("update state of order %s failed: %w", orderID, err)
	}
	return nil
}

// OpenOrders returns every order not yet in a terminal state, used to rebuild
// the expiry schedule on startup.
func (s *GormStore) OpenOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).
		Where("state IN ?", []model.LifecycleState{model.StatePendingVisibility, model.StateOpen}).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("open order scan failed: %w", err)
	}
	return orders, nil
}

// GetOrder fetches a single order by ID.
func (s *GormStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s failed: %w", orderID, err)
	}
	return &o, nil
}
