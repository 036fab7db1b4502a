package model

import "time"

// ClaimOutcome is the result a courier sees for a claim attempt.
type ClaimOutcome string

const (
	OutcomeWon                ClaimOutcome = "won"
	OutcomeLost               ClaimOutcome = "lost"
	OutcomeRejectedIneligible ClaimOutcome = "rejected_ineligible"
	OutcomeRejectedExpired    ClaimOutcome = "rejected_expired"
)

// ClaimAttempt is an ephemeral request; it is never persisted beyond its
// outcome. Wall-clock submission order does not decide the winner: the
// first write accepted by the claim ledger does.
type ClaimAttempt struct {
	OrderID     string       `json:"order_id"`
	CourierID   string       `json:"courier_id"`
	Tier        CourierTier  `json:"tier"`
	SubmittedAt time.Time    `json:"submitted_at"`
	Outcome     ClaimOutcome `json:"outcome"`
}
