package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements the claim primitive on a keyed store: SETNX on
// claim:{order_id} is the compare-and-swap equivalent of the relational
// insert-if-absent. Order lifecycle state still lives in the relational
// store; only the hot claim write is redirected here.
type RedisLedger struct {
	rdb *redis.Client
}

// NewRedisLedger creates a Redis-backed claim ledger.
func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func claimKey(orderID string) string {
	return "claim:" + orderID
}

// TryAssign sets the claim key iff absent. Assignments carry no TTL: a claim
// is permanent once won.
func (l *RedisLedger) TryAssign(ctx context.Context, orderID, courierID string) (AssignOutcome, error) {
	ok, err := l.rdb.SetNX(ctx, claimKey(orderID), courierID, 0).Result()
	if err != nil {
		return AlreadyAssigned, fmt.Errorf("claim write for order %s failed: %w", orderID, err)
	}
	if !ok {
		return AlreadyAssigned, nil
	}
	return Assigned, nil
}

// Winner returns the courier holding the claim key.
func (l *RedisLedger) Winner(ctx context.Context, orderID string) (string, error) {
	val, err := l.rdb.Get(ctx, claimKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoAssignment
	}
	if err != nil {
		return "", fmt.Errorf("winner lookup for order %s failed: %w", orderID, err)
	}
	return val, nil
}
