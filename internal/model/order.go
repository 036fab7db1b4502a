package model

import "time"

// ExclusivityKind classifies how an order is surfaced to couriers.
type ExclusivityKind string

const (
	KindNone    ExclusivityKind = "none"
	KindHotspot ExclusivityKind = "hotspot"
	KindArena   ExclusivityKind = "arena"
	KindVault   ExclusivityKind = "vault"
	KindMystery ExclusivityKind = "mystery"
	KindBatch   ExclusivityKind = "batch"
)

// IsValid reports whether k is a recognized exclusivity kind.
func (k ExclusivityKind) IsValid() bool {
	switch k {
	case KindNone, KindHotspot, KindArena, KindVault, KindMystery, KindBatch:
		return true
	}
	return false
}

// CourierTier is the courier's access level for restricted orders.
type CourierTier string

const (
	TierStandard CourierTier = "standard"
	TierPremium  CourierTier = "premium"
)

// LifecycleState tracks an order through its claim lifecycle.
type LifecycleState string

const (
	StatePendingVisibility LifecycleState = "pending_visibility"
	StateOpen              LifecycleState = "open"
	StateClaimed           LifecycleState = "claimed"
	StateExpired           LifecycleState = "expired"
	StateWithdrawn         LifecycleState = "withdrawn"
)

// Terminal reports whether s is a final state that must never be re-entered.
func (s LifecycleState) Terminal() bool {
	return s == StateClaimed || s == StateExpired || s == StateWithdrawn
}

// Order is an exclusive delivery job eligible for competitive claiming.
// Payout fields are opaque payload carried through for the courier UI.
type Order struct {
	ID                 string          `gorm:"primaryKey;size:64" json:"id"`
	Kind               ExclusivityKind `gorm:"size:32;not null" json:"kind"`
	DiamondOnlyUntil   *time.Time      `json:"diamondOnlyUntil,omitempty"`
	ClaimWindowSeconds int             `gorm:"not null" json:"claimWindowSeconds"`
	VisibilityStart    time.Time       `gorm:"not null" json:"visibilityStart"`
	State              LifecycleState  `gorm:"size:32;not null;index" json:"state"`
	PayoutHidden       bool            `json:"payoutHidden"`
	BatchID            *string         `gorm:"size:64" json:"batchId,omitempty"`
	DeliveryFeeCents   int64           `json:"deliveryFeeCents"`
	TipCents           int64           `json:"tipCents"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ExpiresAt is derived from the visibility start and the claim window.
// It is recomputed rather than stored so a restart cannot trust stale data.
func (o *Order) ExpiresAt() time.Time {
	return o.VisibilityStart.Add(time.Duration(o.ClaimWindowSeconds) * time.Second)
}

// DiamondRestricted reports whether the order is premium-only at the given
// instant. Vault orders are restricted regardless of the window field.
func (o *Order) DiamondRestricted(now time.Time) bool {
	if o.Kind == KindVault {
		return true
	}
	return o.DiamondOnlyUntil != nil && now.Before(*o.DiamondOnlyUntil)
}
