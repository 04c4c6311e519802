// Package server exposes the fee ledger's HTTP API.
package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"feeledger/internal/observability"
)

// New builds the gin engine with all routes registered.
func New(h *Handler, metrics *observability.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if metrics != nil {
		r.Use(metricsMiddleware(metrics))
	}

	v1 := r.Group("/api/v1")
	h.RegisterRoutes(v1)
	return r
}

func metricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(endpoint, statusClass(c.Writer.Status())).Inc()
		metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
