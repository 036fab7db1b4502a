package model

import "time"

// PushSubscription holds a courier's browser push subscription. Couriers
// subscribe to be pinged when an exclusive order drops in their tier.
type PushSubscription struct {
	Endpoint  string      `gorm:"primaryKey"`
	P256DH    string      `gorm:"column:p256dh;not null"`
	Auth      string      `gorm:"not null"`
	CourierID string      `gorm:"size:64;not null;index"`
	Tier      CourierTier `gorm:"size:16;not null"`
	CreatedAt time.Time   `gorm:"not null"`
}
