package handlers

import (
	"errors"
	"net/http"

	"points_service/internal/logger"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

// TriggerRollup runs a rollup synchronously and reports what it covered.
func (h *Handler) TriggerRollup(c *gin.Context) {
	var trigger service.Trigger
	if err := c.ShouldBindJSON(&trigger); err != nil || trigger.Scope == "" {
		badRequest(c, "scope is required")
		return
	}

	report, err := h.Rollups.Run(c.Request.Context(), trigger)
	if errors.Is(err, service.ErrUnknownScope) || errors.Is(err, service.ErrBadBucket) {
		badRequest(c, err.Error())
		return
	}
	h.Audit.LogRollupTrigger(c.Request.Context(), c.ClientIP(), trigger, report)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("rollup trigger failed", "scope", trigger.Scope, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}
