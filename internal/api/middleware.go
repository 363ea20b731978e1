package api

import (
	"strconv"
	"time"

	"orderproc/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// prometheusMiddleware records HTTP latency and count per
// method/path/status, mirroring the teacher's collector wiring but
// against an instance instead of package-level globals.
func prometheusMiddleware(metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath(), status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
	}
}
