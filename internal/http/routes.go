package http

import (
	"time"

	"points_service/internal/http/handlers"
	"points_service/internal/http/middleware"
	"points_service/internal/ratelimit"
	"points_service/internal/service"
	"points_service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Handler *handlers.Handler
	Health  *handlers.HealthHandler
	Hub     *ws.Hub
	Tokens  *service.TokenService

	// APILimiter guards the read endpoints. Ingestion is limited inside the
	// ingestor so that rejections are counted per reason.
	APILimiter    ratelimit.Limiter
	APIRateLimit  int
	APIRateWindow time.Duration
	AdminToken    string
	AllowedOrigin string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(middleware.RequestID(), middleware.HTTPMetrics(), middleware.CORS(d.AllowedOrigin))

	// Health checks (no rate limiting)
	r.GET("/health", d.Health.Health)
	r.GET("/healthz", d.Health.Liveness)
	r.GET("/readyz", d.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := d.Handler
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Identity(d.Tokens))

	v1.POST("/points/events", h.SubmitEvent)

	read := v1.Group("")
	if d.APILimiter != nil {
		read.Use(middleware.RateLimit(d.APILimiter, "api", d.APIRateLimit, d.APIRateWindow))
	}
	read.GET("/points/users/:userId/events", h.ListUserEvents)
	read.GET("/points/users/:userId/summary", h.UserSummary)
	read.GET("/metrics/hourly", h.HourlyMetrics)
	read.GET("/metrics/daily", h.DailyMetrics)
	read.GET("/policy", h.GetPolicy)

	admin := v1.Group("/admin", middleware.AdminOnly(d.AdminToken))
	admin.POST("/rollup", h.TriggerRollup)
	admin.GET("/audit", h.AuditLogs)

	if d.Hub != nil {
		r.GET("/ws/points", ws.HandleWS(d.Hub, d.Tokens, d.AllowedOrigin))
	}
}
