package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/chart"
)

// ChartHandler serves candle series reads and cache invalidation.
type ChartHandler struct {
	chartService *chart.Service
}

// NewChartHandler creates a ChartHandler.
func NewChartHandler(service *chart.Service) *ChartHandler {
	return &ChartHandler{
		chartService: service,
	}
}

// GetChart returns the candle series for a code. Invalid parameters yield an
// empty tagged series, matching the service's permissive read contract.
func (h *ChartHandler) GetChart(c *gin.Context) {
	code := c.Param("code")
	granularity := chart.Granularity(c.DefaultQuery("granularity", string(chart.GranularityDay)))
	rng, err := strconv.Atoi(c.DefaultQuery("range", "30"))
	if err != nil {
		rng = 0
	}

	series := h.chartService.GetChartData(c.Request.Context(), code, granularity, rng)
	c.JSON(http.StatusOK, series)
}

// DeleteChart drops the cached series for one (code, granularity, range).
func (h *ChartHandler) DeleteChart(c *gin.Context) {
	code := c.Param("code")
	granularity := chart.Granularity(c.DefaultQuery("granularity", string(chart.GranularityDay)))
	rng, err := strconv.Atoi(c.DefaultQuery("range", "30"))
	if err != nil {
		rng = 0
	}

	if err := h.chartService.DeleteCache(c.Request.Context(), code, granularity, rng); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": chart.CacheKey(code, granularity, rng)})
}

// ConnectionCounter reports the size of the live feed-session registry.
type ConnectionCounter interface {
	ActiveCount() int
}

// FeedHandler serves the feed health/status surface.
type FeedHandler struct {
	counter ConnectionCounter
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(counter ConnectionCounter) *FeedHandler {
	return &FeedHandler{
		counter: counter,
	}
}

// GetStatus reports the number of open upstream connections.
func (h *FeedHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_connections": h.counter.ActiveCount()})
}
