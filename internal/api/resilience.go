package api

import (
	"github.com/gin-gonic/gin"

	"github.com/toolmesh/toolmesh/pkg/resilience"
)

// ResilienceHandler exposes circuit breaker introspection and operator
// controls.
type ResilienceHandler struct {
	manager *resilience.ResilienceManager
}

// NewResilienceHandler creates a new resilience handler
func NewResilienceHandler(manager *resilience.ResilienceManager) *ResilienceHandler {
	return &ResilienceHandler{manager: manager}
}

// GetAllStats returns a snapshot of every known circuit breaker
func (h *ResilienceHandler) GetAllStats(c *gin.Context) {
	stats := h.manager.GetAllStats()
	SuccessResponse(c, gin.H{
		"services": stats,
		"count":    len(stats),
	})
}

// GetServiceStats returns the breaker snapshot for one service
func (h *ResilienceHandler) GetServiceStats(c *gin.Context) {
	service := c.Param("service")

	stats, err := h.manager.GetStats(service)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, stats)
}

// ResetCircuitBreaker forces a service's breaker back to CLOSED
func (h *ResilienceHandler) ResetCircuitBreaker(c *gin.Context) {
	service := c.Param("service")

	if err := h.manager.ResetCircuitBreaker(service); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"service": service,
		"message": "circuit breaker reset",
	})
}
