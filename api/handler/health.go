package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openlot/lotwatch/browser"
	"github.com/openlot/lotwatch/models"
	"github.com/openlot/lotwatch/targets"
)

const version = "0.1.0"

// Health returns a handler for GET /api/v1/health. The endpoint reports
// "degraded" when more than 80% of the session pool is leased out, which
// is the usual precursor to POOL_TIMEOUT responses.
func Health(pool *browser.Pool, reg *targets.Registry, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := pool.Stats()

		status := "healthy"
		if stats.Capacity > 0 && float64(stats.Leased) > float64(stats.Capacity)*0.8 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: stats,
			Targets:   reg.Len(),
			Version:   version,
		})
	}
}
