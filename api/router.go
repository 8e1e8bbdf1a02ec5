package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openlot/lotwatch/api/handler"
	"github.com/openlot/lotwatch/api/middleware"
	"github.com/openlot/lotwatch/browser"
	"github.com/openlot/lotwatch/config"
	"github.com/openlot/lotwatch/metrics"
	"github.com/openlot/lotwatch/scrape"
	"github.com/openlot/lotwatch/targets"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics sit outside auth so monitoring probes always work.
func NewRouter(reg *targets.Registry, co *scrape.Coordinator, pool *browser.Pool, cfg *config.Config, m *metrics.Metrics, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	if m != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(pool, reg, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.GET("/parking", handler.ListParking(reg, co))
	protected.GET("/parking/:key", handler.GetParking(reg, co))

	return r
}
