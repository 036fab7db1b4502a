package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"exclusive-orders-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(h.cfg.Server.RateLimitPerSec), h.cfg.Server.RateBurst)

	// The listing cache TTL is short on purpose: a stale snapshot only
	// delays a courier seeing a drop, it can never grant a stale claim
	// (the arbiter re-checks everything on POST).
	cacheTTL := time.Duration(h.cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// GET /api/exclusive_orders?tier=premium
		api.GET("/exclusive_orders", caching, h.GetExclusiveOrders)

		// POST /api/orders/{order_id}/claim
		api.POST("/orders/:order_id/claim", h.PostClaim)

		// GET /api/orders/events (SSE stream for courier sessions)
		api.GET("/orders/events", h.StreamEvents)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		admin := api.Group("/admin")
		{
			// POST /api/admin/exclusive promotes orders into the subsystem.
			admin.POST("/exclusive", h.PostExclusive)
			// POST /api/admin/orders/{order_id}/reset withdraws an order.
			admin.POST("/orders/:order_id/reset", h.PostReset)
		}
	}

	return r
}
