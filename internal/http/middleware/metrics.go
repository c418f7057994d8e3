package middleware

import (
	"strconv"

	"points_service/internal/metrics"

	"github.com/gin-gonic/gin"
)

// HTTPMetrics counts requests by route template, not raw path, to keep
// label cardinality bounded.
func HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
