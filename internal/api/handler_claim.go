package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"exclusive-orders-backend/internal/model"
)

type claimRequest struct {
	CourierID string `json:"courier_id" binding:"required"`
	Tier      string `json:"tier" binding:"required"`
}

// PostClaim handles POST /api/orders/{order_id}/claim. The outcome is
// returned synchronously and within a bounded time: an unresolved ledger
// round trip becomes a 503 the courier may retry, never a hung request.
//
// Callers must not assume first-tap-first-served: the first write accepted
// by the claim ledger wins, regardless of submission order here.
func (h *Handler) PostClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier, ok := parseTier(req.Tier)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}

	orderID := c.Param("order_id")
	outcome, err := h.arb.AttemptClaim(c.Request.Context(), orderID, req.CourierID, tier)
	if err != nil {
		// Transient: the window keeps running, a retry may still win.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "claim could not be resolved, try again"})
		return
	}

	status := http.StatusOK
	switch outcome {
	case model.OutcomeRejectedIneligible:
		status = http.StatusForbidden
	case model.OutcomeRejectedExpired:
		status = http.StatusGone
	}
	c.JSON(status, gin.H{"order_id": orderID, "outcome": outcome})
}
