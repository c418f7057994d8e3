package service

import (
	"context"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/repository"
)

// AuditService handles audit logging. Writes are best effort: a failing
// store is logged and never fails the request being audited.
type AuditService struct {
	repo repository.AuditStore
}

// NewAuditService creates a new audit service
func NewAuditService(repo repository.AuditStore) *AuditService {
	return &AuditService{repo: repo}
}

// LogWithRequest creates an audit log with the caller's address
func (s *AuditService) LogWithRequest(ctx context.Context, userID, action, category, ip string, details map[string]interface{}) {
	if s == nil || s.repo == nil {
		return
	}
	log := &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: category,
		Details:  details,
		IP:       ip,
	}

	if err := s.repo.Create(context.WithoutCancel(ctx), log); err != nil {
		logger.Error("failed to create audit log", "error", err, "action", action, "user_id", userID)
	}
}

// LogSignatureFailure records a missing or invalid event signature
func (s *AuditService) LogSignatureFailure(ctx context.Context, userID, ip string, t domain.EarnType, missing bool) {
	action := domain.AuditActionSignatureRejected
	if missing {
		action = domain.AuditActionSignatureMissing
	}
	s.LogWithRequest(ctx, userID, action, domain.AuditCategorySecurity, ip, map[string]interface{}{
		"type": string(t),
	})
}

// LogRollupTrigger records an operator-initiated rollup
func (s *AuditService) LogRollupTrigger(ctx context.Context, ip string, trigger Trigger, report RollupReport) {
	s.LogWithRequest(ctx, trigger.UserID, domain.AuditActionRollupTriggered, domain.AuditCategoryAdmin, ip, map[string]interface{}{
		"scope":  string(report.Scope),
		"bucket": report.Bucket,
		"users":  report.Users,
		"failed": report.Failed,
	})
}

// GetLogsByCategory returns logs by category
func (s *AuditService) GetLogsByCategory(ctx context.Context, category string, limit int) ([]*domain.AuditLog, error) {
	if s == nil || s.repo == nil {
		return nil, nil
	}
	return s.repo.GetByCategory(ctx, category, limit)
}
