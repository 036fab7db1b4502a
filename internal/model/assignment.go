package model

import "time"

// Assignment is the durable record of the single courier who won the claim
// race for an order. The unique key on OrderID is the source of truth for
// the single-winner guarantee; everything in memory is an optimization.
type Assignment struct {
	OrderID    string    `gorm:"primaryKey;size:64" json:"order_id"`
	CourierID  string    `gorm:"size:64;not null;index" json:"courier_id"`
	AcceptedAt time.Time `gorm:"not null" json:"accepted_at"`
}
