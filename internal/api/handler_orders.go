package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"exclusive-orders-backend/internal/model"
)

func parseTier(raw string) (model.CourierTier, bool) {
	switch model.CourierTier(raw) {
	case model.TierStandard, model.TierPremium:
		return model.CourierTier(raw), true
	case "":
		return model.TierStandard, true
	}
	return "", false
}

// GetExclusiveOrders handles GET /api/exclusive_orders?tier=…
// It returns every order currently claimable or visible-locked for the tier.
func (h *Handler) GetExclusiveOrders(c *gin.Context) {
	tier, ok := parseTier(c.Query("tier"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}

	c.JSON(http.StatusOK, h.arb.Snapshot(tier))
}
