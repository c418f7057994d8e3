package handlers

import (
	"net/http"
	"strconv"

	"points_service/internal/domain"

	"github.com/gin-gonic/gin"
)

// AuditLogs lists recent audit entries of one category (security or admin).
func (h *Handler) AuditLogs(c *gin.Context) {
	category := c.DefaultQuery("category", domain.AuditCategorySecurity)
	if category != domain.AuditCategorySecurity && category != domain.AuditCategoryAdmin {
		badRequest(c, "unknown category")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}

	logs, err := h.Audit.GetLogsByCategory(c.Request.Context(), category, min(limit, 200))
	if err != nil {
		writeError(c, err)
		return
	}
	if logs == nil {
		logs = []*domain.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
