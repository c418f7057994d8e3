package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"points_service/internal/domain"
	"points_service/internal/repository"
)

type bucketKey struct {
	userID string
	start  int64
}

// Metrics holds rollup rows keyed by (user, bucket start).
type Metrics struct {
	mu     sync.RWMutex
	hourly map[bucketKey]domain.MetricsHourly
	daily  map[bucketKey]domain.MetricsDaily
}

func NewMetrics() *Metrics {
	return &Metrics{
		hourly: make(map[bucketKey]domain.MetricsHourly),
		daily:  make(map[bucketKey]domain.MetricsDaily),
	}
}

func (m *Metrics) UpsertHourly(_ context.Context, row *domain.MetricsHourly) error {
	r := *row
	r.HourUTC = r.HourUTC.UTC()
	m.mu.Lock()
	m.hourly[bucketKey{r.UserID, r.HourUTC.Unix()}] = r
	m.mu.Unlock()
	return nil
}

func (m *Metrics) UpsertDaily(_ context.Context, row *domain.MetricsDaily) error {
	r := *row
	r.DayUTC = r.DayUTC.UTC()
	m.mu.Lock()
	m.daily[bucketKey{r.UserID, r.DayUTC.Unix()}] = r
	m.mu.Unlock()
	return nil
}

func (m *Metrics) GetHourly(_ context.Context, userID string, hour time.Time) (*domain.MetricsHourly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.hourly[bucketKey{userID, hour.UTC().Unix()}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *Metrics) GetDaily(_ context.Context, userID string, day time.Time) (*domain.MetricsDaily, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.daily[bucketKey{userID, day.UTC().Unix()}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *Metrics) ListHourly(_ context.Context, userID string, from, to time.Time) ([]*domain.MetricsHourly, error) {
	m.mu.RLock()
	var out []*domain.MetricsHourly
	for k, r := range m.hourly {
		if k.userID == userID && !r.HourUTC.Before(from) && r.HourUTC.Before(to) {
			r := r
			out = append(out, &r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].HourUTC.Before(out[j].HourUTC) })
	return out, nil
}

func (m *Metrics) ListDaily(_ context.Context, userID string, from, to time.Time) ([]*domain.MetricsDaily, error) {
	m.mu.RLock()
	var out []*domain.MetricsDaily
	for k, r := range m.daily {
		if k.userID == userID && !r.DayUTC.Before(from) && r.DayUTC.Before(to) {
			r := r
			out = append(out, &r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DayUTC.Before(out[j].DayUTC) })
	return out, nil
}
