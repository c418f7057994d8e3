package handlers

import (
	"time"

	"points_service/internal/repository"
	"points_service/internal/service"
)

type Handler struct {
	Ingestor *service.EventIngestor
	Ledger   repository.Ledger
	Metrics  repository.MetricsStore
	Rollups  *service.RollupAggregator
	Audit    *service.AuditService

	now func() time.Time
}

func NewHandler(ingestor *service.EventIngestor, ledger repository.Ledger, metricsStore repository.MetricsStore, rollups *service.RollupAggregator, audit *service.AuditService) *Handler {
	return &Handler{
		Ingestor: ingestor,
		Ledger:   ledger,
		Metrics:  metricsStore,
		Rollups:  rollups,
		Audit:    audit,
		now:      time.Now,
	}
}

// SetClock replaces time.Now; used by tests.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }
