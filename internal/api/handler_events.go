package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

// StreamEvents handles GET /api/orders/events. It streams lifecycle
// transitions to the courier session as server-sent events until the client
// disconnects. Events carry a per-order sequence number; a client that finds
// a gap should refetch the listing rather than trust its local view.
func (h *Handler) StreamEvents(c *gin.Context) {
	events, cancel := h.bus.Subscribe(64)
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-clientGone:
			return false
		}
	})
}
