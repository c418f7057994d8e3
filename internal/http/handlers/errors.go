package handlers

import (
	"net/http"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

type rejectionResponse struct {
	Reason     domain.Reason `json:"reason"`
	Message    string        `json:"message"`
	RetryAfter *int          `json:"retry_after,omitempty"`
	Remaining  *int64        `json:"remaining,omitempty"`
}

func statusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonMalformed, domain.ReasonInvalidType:
		return http.StatusBadRequest
	case domain.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case domain.ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// writeError answers a rejection with its reason, and anything else with a
// fixed body. Internal error text never reaches the caller.
func writeError(c *gin.Context, err error) {
	r, ok := service.AsRejection(err)
	if !ok {
		logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := rejectionResponse{Reason: r.Reason, Message: r.Message}
	if r.RetryAfter > 0 {
		secs := service.RetryAfterSeconds(r.RetryAfter)
		body.RetryAfter = &secs
	}
	switch r.Reason {
	case domain.ReasonRateLimited, domain.ReasonDailyCapExceeded:
		remaining := r.Remaining
		body.Remaining = &remaining
	}
	c.JSON(statusFor(r.Reason), body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, rejectionResponse{Reason: domain.ReasonMalformed, Message: msg})
}
