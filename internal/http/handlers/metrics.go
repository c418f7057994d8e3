package handlers

import (
	"net/http"
	"time"

	"points_service/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	defaultHourlySpan = 24 * time.Hour
	defaultDailySpan  = 30 * 24 * time.Hour
	maxHourlySpan     = 31 * 24 * time.Hour
	maxDailySpan      = 366 * 24 * time.Hour
)

// metricsRange reads userId, from and to (bucket keys, both inclusive) and
// returns the half-open interval of bucket starts to list.
func (h *Handler) metricsRange(c *gin.Context, scope domain.Scope, defaultSpan, maxSpan time.Duration) (string, time.Time, time.Time, bool) {
	userID := c.Query("userId")
	if userID == "" {
		badRequest(c, "userId is required")
		return "", time.Time{}, time.Time{}, false
	}

	_, to, _ := scope.Window(h.now())
	if v := c.Query("to"); v != "" {
		start, err := scope.ParseKey(v)
		if err != nil {
			badRequest(c, "invalid to bucket key")
			return "", time.Time{}, time.Time{}, false
		}
		_, to, _ = scope.Window(start)
	}

	from, _, _ := scope.Window(to.Add(-defaultSpan))
	if v := c.Query("from"); v != "" {
		start, err := scope.ParseKey(v)
		if err != nil {
			badRequest(c, "invalid from bucket key")
			return "", time.Time{}, time.Time{}, false
		}
		from = start
	}

	if !from.Before(to) || to.Sub(from) > maxSpan {
		badRequest(c, "invalid range")
		return "", time.Time{}, time.Time{}, false
	}
	return userID, from, to, true
}

func (h *Handler) HourlyMetrics(c *gin.Context) {
	userID, from, to, ok := h.metricsRange(c, domain.ScopeHour, defaultHourlySpan, maxHourlySpan)
	if !ok {
		return
	}
	rows, err := h.Metrics.ListHourly(c.Request.Context(), userID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []*domain.MetricsHourly{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "rows": rows})
}

func (h *Handler) DailyMetrics(c *gin.Context) {
	userID, from, to, ok := h.metricsRange(c, domain.ScopeDay, defaultDailySpan, maxDailySpan)
	if !ok {
		return
	}
	rows, err := h.Metrics.ListDaily(c.Request.Context(), userID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []*domain.MetricsDaily{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "rows": rows})
}
