package handlers

import (
	"net/http"
	"runtime"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/tracing"

	"github.com/gin-gonic/gin"
)

// MetricsHandler exposes the engine's operational state: lifecycle counters
// (events created, votes recorded, sweeps), request timers and dependency
// health.
type MetricsHandler struct {
	collector *metrics.Metrics
	tracer    tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(collector *metrics.Metrics, tracer tracing.Tracer) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		tracer:    tracer,
	}
}

// HandleGetMetrics serves the full collector snapshot
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-metrics")
	defer h.tracer.EndTransaction(txn)

	h.collector.SetGauge("goroutines", int64(runtime.NumGoroutine()))

	c.JSON(http.StatusOK, h.collector.GetAllMetrics())
}

// HandleGetHealthCheck reports dependency health. Any failing check marks
// the engine degraded and the endpoint answers 503 for load balancers.
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	checks := h.collector.GetHealthChecks()

	status, httpStatus := "healthy", http.StatusOK
	for _, ok := range checks {
		if !ok {
			status, httpStatus = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":         status,
		"checks":         checks,
		"uptime_seconds": h.collector.GetUptimeSeconds(),
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
