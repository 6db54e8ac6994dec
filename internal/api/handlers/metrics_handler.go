package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"example.com/backstage/services/library/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency whose health can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler serves the metrics snapshot and health checks
type MetricsHandler struct {
	metrics *metrics.Metrics
	checks  map[string]Pinger
}

// NewMetricsHandler creates a new metrics handler. checks maps a health
// component name to the dependency probed for it.
func NewMetricsHandler(m *metrics.Metrics, checks map[string]Pinger) *MetricsHandler {
	return &MetricsHandler{
		metrics: m,
		checks:  checks,
	}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// HandleGetHealthCheck probes every dependency and reports 503 if any is down
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	for component, pinger := range h.checks {
		err := pinger.Ping(ctx)
		if err != nil {
			log.Warn().Err(err).Str("component", component).Msg("Health check failed")
		}
		h.metrics.SetHealth(component, err == nil)
	}

	healthChecks := h.metrics.GetHealthChecks()
	healthy := true
	for _, status := range healthChecks {
		if !status {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  healthy,
		"details": healthChecks,
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
