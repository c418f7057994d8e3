package handlers

import (
	"net/http"
	"strconv"

	"points_service/internal/domain"
	"points_service/internal/http/middleware"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

type submitEventRequest struct {
	UserID    string                 `json:"userId" binding:"required"`
	Type      string                 `json:"type" binding:"required"`
	Amount    *int64                 `json:"amount" binding:"required"`
	Meta      map[string]interface{} `json:"meta"`
	Signature string                 `json:"signature"`
	PublicKey string                 `json:"publicKey"`
}

type submitEventResponse struct {
	Event     *domain.PointEvent `json:"event"`
	Remaining int                `json:"remaining"`
}

// SubmitEvent is the ingestion endpoint.
func (h *Handler) SubmitEvent(c *gin.Context) {
	var req submitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if tokenUser, ok := middleware.UserIDFrom(c); ok && tokenUser != req.UserID {
		c.JSON(http.StatusUnauthorized, rejectionResponse{
			Reason:  domain.ReasonUnauthenticated,
			Message: "token does not belong to userId",
		})
		return
	}

	res, err := h.Ingestor.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:    req.UserID,
		Type:      domain.EarnType(req.Type),
		Amount:    *req.Amount,
		Meta:      req.Meta,
		Signature: req.Signature,
		PublicKey: req.PublicKey,
	}, service.Caller{Key: middleware.IdentityFrom(c), IP: c.ClientIP()})
	if err != nil {
		if r, ok := service.AsRejection(err); ok && r.Reason == domain.ReasonRateLimited {
			middleware.SetRateLimitHeaders(c, int(r.Limit), 0)
			c.Header("Retry-After", strconv.Itoa(service.RetryAfterSeconds(r.RetryAfter)))
		}
		writeError(c, err)
		return
	}

	middleware.SetRateLimitHeaders(c, res.Limit, res.Remaining)
	c.JSON(http.StatusCreated, submitEventResponse{Event: res.Event, Remaining: res.Remaining})
}

// ListUserEvents returns recent ledger rows for a user.
func (h *Handler) ListUserEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}

	events, err := h.Ledger.ListByUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*domain.PointEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// UserSummary reports the trailing-24h total and what is left of the cap.
func (h *Handler) UserSummary(c *gin.Context) {
	userID := c.Param("userId")
	policy := h.Ingestor.Policy()
	earned, remaining, err := policy.RemainingToday(c.Request.Context(), h.Ledger, userID, h.now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":         userID,
		"earned_24h":      earned,
		"remaining_today": remaining,
		"daily_cap":       policy.Table().DailyCap,
	})
}

// GetPolicy returns the effective policy table.
func (h *Handler) GetPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.Ingestor.Policy().Table())
}
