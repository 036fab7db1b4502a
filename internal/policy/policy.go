// Package policy is the single place tier visibility rules live. Checks that
// used to be scattered across query filters and UI conditionals are
// consolidated here so a rule change cannot drift between surfaces.
package policy

import (
	"time"

	"exclusive-orders-backend/internal/model"
)

// Classification is the visibility of one order for one courier at one instant.
type Classification string

const (
	// Hidden orders are not listed for the courier at all.
	Hidden Classification = "hidden"
	// VisibleLocked orders are listed but cannot be claimed (a greyed
	// "diamond only" card). Only produced when the locked-card product
	// flag is on.
	VisibleLocked Classification = "visible_locked"
	// Claimable orders may be claimed by the courier right now.
	Claimable Classification = "claimable"
)

// Config carries the product decisions the policy depends on.
type Config struct {
	// ShowLockedOrders exposes premium-only orders to standard couriers as
	// locked cards during the diamond window instead of hiding them.
	ShowLockedOrders bool
}

// Classify decides what a courier of the given tier may do with an order at
// the given instant. It is deterministic for a fixed (order, tier, now) and
// performs no I/O, so it is safe to call concurrently and repeatedly.
func Classify(o *model.Order, tier model.CourierTier, now time.Time, cfg Config) Classification {
	if o.State.Terminal() || !now.Before(o.ExpiresAt()) {
		return Hidden
	}
	if now.Before(o.VisibilityStart) {
		return Hidden
	}

	if o.Kind == model.KindVault {
		// Vault orders are never listed for standard couriers, not even
		// as a locked card.
		if tier == model.TierPremium {
			return Claimable
		}
		return Hidden
	}

	if o.DiamondRestricted(now) {
		if tier == model.TierPremium {
			return Claimable
		}
		if cfg.ShowLockedOrders {
			return VisibleLocked
		}
		return Hidden
	}

	return Claimable
}
