package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

// Metrics middleware records request counts and latency per route. The gin
// route template is used as the label so path parameters do not explode
// cardinality.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		statusClass := strconv.Itoa(c.Writer.Status()/100) + "xx"

		m.HTTPRequests.WithLabelValues(c.Request.Method, route, statusClass).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
