// Package memory is an in-process implementation of the repository
// interfaces, used for STORE=memory deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"points_service/internal/domain"
	"points_service/internal/repository"
)

var (
	_ repository.Ledger       = (*Ledger)(nil)
	_ repository.MetricsStore = (*Metrics)(nil)
	_ repository.AuditStore   = (*Audit)(nil)
)

// Ledger keeps point events per user in insertion order.
type Ledger struct {
	mu     sync.RWMutex
	byUser map[string][]domain.PointEvent

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// userLock is dropped from Ledger.locks once no caller holds or waits on it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewLedger() *Ledger {
	return &Ledger{
		byUser: make(map[string][]domain.PointEvent),
		locks:  make(map[string]*userLock),
	}
}

func (l *Ledger) Append(ctx context.Context, e *domain.PointEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *e
	cp.CreatedAt = cp.CreatedAt.UTC()
	cp.Meta = copyMeta(e.Meta)

	l.mu.Lock()
	l.byUser[e.UserID] = append(l.byUser[e.UserID], cp)
	l.mu.Unlock()
	return nil
}

func (l *Ledger) LastEventAt(_ context.Context, userID string, t domain.EarnType) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		last  time.Time
		found bool
	)
	for _, e := range l.byUser[userID] {
		if e.Type == t && (!found || e.CreatedAt.After(last)) {
			last, found = e.CreatedAt, true
		}
	}
	return last, found, nil
}

func (l *Ledger) SumSince(_ context.Context, userID string, since time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, e := range l.byUser[userID] {
		if e.CreatedAt.After(since) {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (l *Ledger) acquire(userID string) *userLock {
	l.locksMu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.locksMu.Unlock()

	ul.mu.Lock()
	return ul
}

func (l *Ledger) release(userID string, ul *userLock) {
	ul.mu.Unlock()

	l.locksMu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.locksMu.Unlock()
}

// WithUserLock serializes fn against other callers for the same user.
func (l *Ledger) WithUserLock(ctx context.Context, userID string, fn func(repository.EventStore) error) error {
	ul := l.acquire(userID)
	defer l.release(userID, ul)
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(l)
}

func (l *Ledger) SumRange(_ context.Context, userID string, from, to time.Time) (int64, int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum, count int64
	for _, e := range l.byUser[userID] {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			sum += e.Amount
			count++
		}
	}
	return sum, count, nil
}

func (l *Ledger) UsersWithEvents(_ context.Context, from, to time.Time) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var users []string
	for userID, events := range l.byUser {
		for _, e := range events {
			if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
				users = append(users, userID)
				break
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

// ListByUser returns recent events, newest first.
func (l *Ledger) ListByUser(_ context.Context, userID string, limit int) ([]*domain.PointEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	l.mu.RLock()
	events := l.byUser[userID]
	out := make([]*domain.PointEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		e := events[i]
		e.Meta = copyMeta(e.Meta)
		out = append(out, &e)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Count returns the number of stored events; used by tests.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, events := range l.byUser {
		n += len(events)
	}
	return n
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
