package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/feedharvest/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports "degraded" until the proxy credential has been loaded, since no
// collection can start before that.
func Health(col Collector, moles Moles, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if !moles.Initialized() {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:           status,
			Uptime:           time.Since(startTime).Round(time.Second).String(),
			ProxyInitialized: moles.Initialized(),
			Busy:             col.Busy(),
			Version:          Version,
		})
	}
}
