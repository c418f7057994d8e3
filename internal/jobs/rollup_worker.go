package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"points_service/internal/domain"
	"points_service/internal/logger"
	"points_service/internal/metrics"
	"points_service/internal/service"

	"github.com/sourcegraph/conc/panics"
)

// Aggregator is the part of the rollup service the worker drives.
type Aggregator interface {
	RollupAll(ctx context.Context, scope domain.Scope, bucketStart time.Time) (service.RollupReport, error)
}

type bucket struct {
	scope domain.Scope
	start time.Time
}

// RollupWorker performs scheduled rollups off the scheduler goroutine.
// Signals are merged into a pending bucket set; while a pass is queued or
// running further signals only add buckets, so a slow pass never builds a
// backlog of duplicate work and no requested bucket is lost.
type RollupWorker struct {
	agg Aggregator

	mu      sync.Mutex
	pending map[bucket]struct{}
	wake    chan struct{}
}

func NewRollupWorker(agg Aggregator) *RollupWorker {
	return &RollupWorker{
		agg:     agg,
		pending: make(map[bucket]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Signal requests the hour and the day containing at-1h.
func (w *RollupWorker) Signal(at time.Time) {
	ref := at.UTC().Add(-time.Hour)
	hour, _, _ := domain.ScopeHour.Window(ref)
	day, _, _ := domain.ScopeDay.Window(ref)
	w.Enqueue(domain.ScopeHour, hour)
	w.Enqueue(domain.ScopeDay, day)
}

// SignalJob is the long-period scheduler job. It only hands work to the
// worker so the scheduler goroutine never blocks on a rollup.
func (w *RollupWorker) SignalJob(now func() time.Time) JobFunc {
	return func(context.Context) error {
		w.Signal(now())
		return nil
	}
}

// Enqueue adds one bucket. It reports false when the signal was merged into
// an already queued pass.
func (w *RollupWorker) Enqueue(scope domain.Scope, start time.Time) bool {
	w.mu.Lock()
	w.pending[bucket{scope: scope, start: start.UTC()}] = struct{}{}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
		return true
	default:
		metrics.RollupCoalesced.Inc()
		return false
	}
}

// Run processes passes until ctx is done. A pass in progress when ctx is
// cancelled stops between users; partial rollups are safe to redo.
func (w *RollupWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

func (w *RollupWorker) take() []bucket {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]bucket, 0, len(w.pending))
	for b := range w.pending {
		out = append(out, b)
	}
	clear(w.pending)

	sort.Slice(out, func(i, j int) bool {
		if !out[i].start.Equal(out[j].start) {
			return out[i].start.Before(out[j].start)
		}
		return out[i].scope < out[j].scope
	})
	return out
}

func (w *RollupWorker) drain(ctx context.Context) {
	for _, b := range w.take() {
		if ctx.Err() != nil {
			return
		}
		var pc panics.Catcher
		pc.Try(func() {
			if _, err := w.agg.RollupAll(ctx, b.scope, b.start); err != nil {
				logger.Error("scheduled rollup failed", "scope", b.scope, "bucket", b.scope.Key(b.start), "error", err)
			}
		})
		if r := pc.Recovered(); r != nil {
			logger.Error("scheduled rollup panicked", "scope", b.scope, "error", r.AsError())
		}
	}
}
