// Package jobs runs the process-wide background work: the short ingest tick,
// the hourly rollup signal and the worker that performs rollups.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"points_service/internal/logger"
	"points_service/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/panics"
)

// JobFunc is one scheduled unit of work. The context is cancelled when the
// scheduler is stopped and in-flight jobs are abandoned.
type JobFunc func(ctx context.Context) error

// Scheduler wraps cron with per-job failure isolation: an error or panic in
// one run is logged and counted, and the next run happens on schedule. A job
// still running when its next fire time arrives is skipped, not stacked.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler() *Scheduler {
	cronLogger := cron.PrintfLogger(logger.Std(slog.LevelWarn))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}
}

// Add registers fn under a cron spec ("@every 1m", "5 * * * *").
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runJob(name, fn) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) runJob(name string, fn JobFunc) {
	log := logger.With("job", name)
	start := time.Now()

	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = fn(s.ctx) })

	status := "ok"
	if r := pc.Recovered(); r != nil {
		status = "panic"
		log.Error("job panicked", "error", r.AsError())
	} else if err != nil {
		status = "error"
		log.Error("job failed", "error", err, "duration", time.Since(start))
	} else {
		log.Debug("job finished", "duration", time.Since(start))
	}
	metrics.SchedulerJobs.WithLabelValues(name, status).Inc()
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops firing new runs and waits for in-flight ones until ctx expires.
// Past that, running jobs see their context cancelled and are abandoned.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logger.Warn("scheduler stop timed out; abandoning running jobs")
	}
	s.cancel()
	logger.Info("scheduler stopped")
}
