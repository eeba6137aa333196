package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records ops API latency, totals and in-flight requests. Requests
// that matched no route are bucketed under one label so probing noise cannot
// explode the path cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()
		c.Next()
		metrics.HTTPRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
