package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"exclusive-orders-backend/config"
	"exclusive-orders-backend/internal/arbiter"
	"exclusive-orders-backend/internal/event"
	"exclusive-orders-backend/internal/ledger"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	arb     *arbiter.Arbiter
	store   *ledger.GormStore
	bus     *event.Bus
	webpush *webpush.Options
	cfg     *config.Config
}

// NewHandler creates a new API handler.
func NewHandler(arb *arbiter.Arbiter, store *ledger.GormStore, bus *event.Bus, webpushOptions *webpush.Options, cfg *config.Config) *Handler {
	return &Handler{
		arb:     arb,
		store:   store,
		bus:     bus,
		webpush: webpushOptions,
		cfg:     cfg,
	}
}
