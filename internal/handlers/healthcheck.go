package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/phenoscope-backend/internal/services"
)

type HealthHandler struct {
	svc services.AssocService
}

func NewHealthHandler(svc services.AssocService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	stats := h.svc.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queue_depth": h.svc.QueueDepth(),
		"cache": gin.H{
			"size":      stats.Size,
			"capacity":  stats.Capacity,
			"in_flight": stats.InFlight,
			"hits":      stats.Hits,
			"misses":    stats.Misses,
			"evictions": stats.Evictions,
		},
	})
}
