// Package server exposes the chart read API and the feed status surface
// over HTTP.
package server

import (
	"github.com/gin-gonic/gin"
)

// Config wires the router's handlers.
type Config struct {
	ChartHandler *ChartHandler
	FeedHandler  *FeedHandler
}

// NewRouter builds the gin engine with all registered routes. Handlers left
// nil simply contribute no routes, so the two binaries can share this.
func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	api := router.Group("/v1/")
	if cfg.ChartHandler != nil {
		registerChartRoutes(api, cfg.ChartHandler)
	}
	if cfg.FeedHandler != nil {
		registerFeedRoutes(api, cfg.FeedHandler)
	}

	return router
}

func registerChartRoutes(api *gin.RouterGroup, h *ChartHandler) {
	api.GET("chart/:code", h.GetChart)
	api.DELETE("chart/:code", h.DeleteChart)
}

func registerFeedRoutes(api *gin.RouterGroup, h *FeedHandler) {
	api.GET("feed/status", h.GetStatus)
}
