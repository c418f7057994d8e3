package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/metrics"
	"points_service/internal/repository"

	"golang.org/x/sync/errgroup"
)

// Trigger asks for one rollup. Empty UserID means every user with events in
// the bucket; empty BucketKey means the last complete bucket.
type Trigger struct {
	Scope     domain.Scope `json:"scope"`
	UserID    string       `json:"userId,omitempty"`
	BucketKey string       `json:"bucketKey,omitempty"`
}

// RollupReport summarizes one rollup pass.
type RollupReport struct {
	Scope  domain.Scope `json:"scope"`
	Bucket string       `json:"bucket"`
	Users  int          `json:"users"`
	Failed int          `json:"failed"`
}

// RollupAggregator recomputes metrics rows from the ledger. Every write
// replaces the row with the exact ledger sum of its bucket, so reruns and
// overlapping runs converge on the same value without locks.
type RollupAggregator struct {
	ledger      repository.Ledger
	store       repository.MetricsStore
	concurrency int
	now         func() time.Time
}

func NewRollupAggregator(ledger repository.Ledger, store repository.MetricsStore, concurrency int) *RollupAggregator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RollupAggregator{ledger: ledger, store: store, concurrency: concurrency, now: time.Now}
}

// SetClock replaces time.Now; used by tests.
func (a *RollupAggregator) SetClock(now func() time.Time) { a.now = now }

// RollupHour writes the user's total for the UTC hour containing hour.
func (a *RollupAggregator) RollupHour(ctx context.Context, userID string, hour time.Time) (*domain.MetricsHourly, error) {
	start, end, _ := domain.ScopeHour.Window(hour)
	sum, count, err := a.ledger.SumRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	row := &domain.MetricsHourly{
		UserID:       userID,
		HourUTC:      start,
		PointsEarned: sum,
		EventCount:   count,
		UpdatedAt:    a.now().UTC(),
	}
	if err := a.store.UpsertHourly(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// RollupDay writes the user's total for the UTC day containing day.
func (a *RollupAggregator) RollupDay(ctx context.Context, userID string, day time.Time) (*domain.MetricsDaily, error) {
	start, end, _ := domain.ScopeDay.Window(day)
	sum, count, err := a.ledger.SumRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	row := &domain.MetricsDaily{
		UserID:       userID,
		DayUTC:       start,
		PointsEarned: sum,
		EventCount:   count,
		UpdatedAt:    a.now().UTC(),
	}
	if err := a.store.UpsertDaily(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (a *RollupAggregator) rollupOne(ctx context.Context, scope domain.Scope, userID string, start time.Time) error {
	var err error
	switch scope {
	case domain.ScopeHour:
		_, err = a.RollupHour(ctx, userID, start)
	case domain.ScopeDay:
		_, err = a.RollupDay(ctx, userID, start)
	default:
		return ErrUnknownScope
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RollupRuns.WithLabelValues(string(scope), status).Inc()
	return err
}

// RollupAll recomputes the bucket for every user with events in it. Per-user
// failures do not stop the pass; they come back joined.
func (a *RollupAggregator) RollupAll(ctx context.Context, scope domain.Scope, bucketStart time.Time) (RollupReport, error) {
	start, end, err := scope.Window(bucketStart)
	if err != nil {
		return RollupReport{}, ErrUnknownScope
	}
	report := RollupReport{Scope: scope, Bucket: scope.Key(start)}

	timer := time.Now()
	defer func() {
		metrics.RollupDuration.WithLabelValues(string(scope)).Observe(time.Since(timer).Seconds())
	}()

	users, err := a.ledger.UsersWithEvents(ctx, start, end)
	if err != nil {
		return report, fmt.Errorf("list users for %s %s: %w", scope, report.Bucket, err)
	}
	report.Users = len(users)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(a.concurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if err := a.rollupOne(ctx, scope, userID, start); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("rollup %s %s for %s: %w", scope, report.Bucket, userID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Failed = len(errs)
	if report.Failed > 0 {
		logger.Warn("rollup finished with failures", "scope", scope, "bucket", report.Bucket, "users", report.Users, "failed", report.Failed)
	} else {
		logger.Info("rollup finished", "scope", scope, "bucket", report.Bucket, "users", report.Users)
	}
	return report, errors.Join(errs...)
}

// Run resolves a trigger and performs it.
func (a *RollupAggregator) Run(ctx context.Context, t Trigger) (RollupReport, error) {
	start, err := ResolveBucket(t.Scope, t.BucketKey, a.now())
	if err != nil {
		return RollupReport{}, err
	}
	if t.UserID == "" {
		return a.RollupAll(ctx, t.Scope, start)
	}

	report := RollupReport{Scope: t.Scope, Bucket: t.Scope.Key(start), Users: 1}
	if err := a.rollupOne(ctx, t.Scope, t.UserID, start); err != nil {
		report.Failed = 1
		return report, err
	}
	return report, nil
}

// ResolveBucket turns a bucket key into the bucket start. An empty key is the
// last complete bucket before now; buckets starting after now are refused.
func ResolveBucket(scope domain.Scope, key string, now time.Time) (time.Time, error) {
	if scope != domain.ScopeHour && scope != domain.ScopeDay {
		return time.Time{}, ErrUnknownScope
	}
	if key == "" {
		return scope.Previous(now)
	}
	start, err := scope.ParseKey(key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadBucket, key)
	}
	if start.After(now) {
		return time.Time{}, fmt.Errorf("%w: %q is in the future", ErrBadBucket, key)
	}
	return start, nil
}
