// Package api wires the HTTP control surface.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/feedharvest/api/handler"
	"github.com/use-agent/feedharvest/api/middleware"
	"github.com/use-agent/feedharvest/cache"
	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/storage"
)

// Deps are the services the routes call into.
type Deps struct {
	Collector handler.Collector
	Moles     handler.Moles
	Store     storage.Store
	Cache     *cache.Cache
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(d Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(d.Collector, d.Moles, d.StartTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Collections
	protected.POST("/collections", handler.StartCollection(d.Collector, d.Store, cfg.Collector))
	protected.DELETE("/collections/current", handler.CancelCollection(d.Collector))
	protected.GET("/status", handler.Status(d.Collector, d.Moles))

	// Results
	protected.GET("/data", handler.GetData(d.Store, d.Cache))

	// Moles
	protected.GET("/moles", handler.ListMoles(d.Moles))
	protected.POST("/moles", handler.AddMole(d.Moles))
	protected.DELETE("/moles/:name", handler.DeleteMole(d.Moles))

	return r
}
