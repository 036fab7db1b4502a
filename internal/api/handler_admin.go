package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"exclusive-orders-backend/internal/arbiter"
	"exclusive-orders-backend/internal/model"
)

type promoteOrderInput struct {
	ID               string `json:"id" binding:"required"`
	DeliveryFeeCents int64  `json:"delivery_fee_cents"`
	TipCents         int64  `json:"tip_cents"`
}

type promoteRequest struct {
	Kind               string              `json:"kind" binding:"required"`
	DiamondOnlySeconds *int                `json:"diamond_only_seconds"`
	ClaimWindowSeconds int                 `json:"claim_window_seconds"`
	VisibilityStart    *time.Time          `json:"visibility_start"`
	PayoutHidden       *bool               `json:"payout_hidden"`
	Orders             []promoteOrderInput `json:"orders" binding:"required,min=1"`
}

type promoteResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// PostExclusive handles POST /api/admin/exclusive. It promotes a batch of
// plain orders into exclusive ones and starts their claim lifecycle.
func (h *Handler) PostExclusive(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := model.ExclusivityKind(req.Kind)
	if !kind.IsValid() || kind == model.KindNone {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclusivity kind"})
		return
	}
	if kind == model.KindBatch && len(req.Orders) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch promotion needs at least two orders"})
		return
	}

	now := time.Now()
	visibility := now
	if req.VisibilityStart != nil {
		visibility = *req.VisibilityStart
	}

	window := req.ClaimWindowSeconds
	if window <= 0 {
		window = h.cfg.Policy.DefaultClaimWindowSeconds
	}

	// Vault orders are premium-only for their whole lifetime, so the
	// timed diamond window only applies to the other kinds.
	var diamondUntil *time.Time
	if kind != model.KindVault {
		seconds := h.cfg.Policy.DefaultDiamondSeconds
		if req.DiamondOnlySeconds != nil {
			seconds = *req.DiamondOnlySeconds
		}
		if seconds > 0 {
			t := visibility.Add(time.Duration(seconds) * time.Second)
			diamondUntil = &t
		}
	}

	payoutHidden := kind == model.KindMystery
	if req.PayoutHidden != nil {
		payoutHidden = *req.PayoutHidden
	}

	var batchID *string
	if kind == model.KindBatch {
		id := uuid.NewString()
		batchID = &id
	}

	results := make([]promoteResult, 0, len(req.Orders))
	admitted := 0
	for _, in := range req.Orders {
		o := &model.Order{
			ID:                 in.ID,
			Kind:               kind,
			DiamondOnlyUntil:   diamondUntil,
			ClaimWindowSeconds: window,
			VisibilityStart:    visibility,
			PayoutHidden:       payoutHidden,
			BatchID:            batchID,
			DeliveryFeeCents:   in.DeliveryFeeCents,
			TipCents:           in.TipCents,
		}
		if err := h.arb.Admit(c.Request.Context(), o); err != nil {
			results = append(results, promoteResult{OrderID: in.ID, Status: "failed", Error: err.Error()})
			continue
		}
		admitted++
		results = append(results, promoteResult{OrderID: in.ID, Status: "admitted"})
	}

	status := http.StatusCreated
	if admitted == 0 {
		status = http.StatusUnprocessableEntity
	}
	resp := gin.H{"admitted": admitted, "results": results}
	if batchID != nil {
		resp["batch_id"] = *batchID
	}
	c.JSON(status, resp)
}

// PostReset handles POST /api/admin/orders/{order_id}/reset. It withdraws
// the order so it can be re-promoted through the normal flow.
func (h *Handler) PostReset(c *gin.Context) {
	orderID := c.Param("order_id")
	err := h.arb.Withdraw(c.Request.Context(), orderID)
	switch {
	case errors.Is(err, arbiter.ErrUnknownOrder):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
	case errors.Is(err, arbiter.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "order already settled"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"order_id": orderID, "state": model.StateWithdrawn})
	}
}
