package memory

import (
	"context"
	"sync"
	"time"

	"points_service/internal/domain"
)

type Audit struct {
	mu     sync.RWMutex
	nextID int64
	logs   []domain.AuditLog
}

func NewAudit() *Audit {
	return &Audit{}
}

func (a *Audit) Create(_ context.Context, log *domain.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	log.ID = a.nextID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	a.logs = append(a.logs, *log)
	return nil
}

// GetByCategory returns logs of one category, newest first.
func (a *Audit) GetByCategory(_ context.Context, category string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*domain.AuditLog
	for i := len(a.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if a.logs[i].Category == category {
			l := a.logs[i]
			out = append(out, &l)
		}
	}
	return out, nil
}
