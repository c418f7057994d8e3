package middleware

import (
	"net/http"
	"strconv"
	"time"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/metrics"
	"points_service/internal/ratelimit"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

// RateLimit admits requests per caller identity. Requires Identity to run
// first. A limiter failure is answered with 500: the limiter fails closed.
func RateLimit(limiter ratelimit.Limiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + IdentityFrom(c)
		d, err := limiter.Admit(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.WithContext(c.Request.Context()).Error("rate limiter unavailable", "scope", scope, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		SetRateLimitHeaders(c, d.Limit, d.Remaining)
		if !d.Allowed {
			metrics.RLBlocked.WithLabelValues(scope).Inc()
			secs := service.RetryAfterSeconds(d.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"reason":      domain.ReasonRateLimited,
				"message":     "too many requests",
				"retry_after": secs,
				"remaining":   0,
			})
			return
		}
		metrics.RLRequests.WithLabelValues(scope).Inc()
		c.Next()
	}
}

func SetRateLimitHeaders(c *gin.Context, limit, remaining int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
}
