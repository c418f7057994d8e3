package ratelimit

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

const cleanupInterval = 5 * time.Minute

// Option configures in-memory limiters.
type Option func(*memoryOptions)

type memoryOptions struct {
	now     func() time.Time
	cleanup time.Duration
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *memoryOptions) { o.now = now }
}

// WithCleanupInterval sets how often idle buckets are dropped. Zero disables
// the background sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *memoryOptions) { o.cleanup = d }
}

func buildOptions(opts []Option) memoryOptions {
	o := memoryOptions{now: time.Now, cleanup: cleanupInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sweeper runs the idle-bucket cleanup loop shared by both strategies.
type sweeper struct {
	stopCh chan struct{}
	done   chan struct{}
}

func startSweeper(interval time.Duration, sweep func()) *sweeper {
	s := &sweeper{stopCh: make(chan struct{}), done: make(chan struct{})}
	if interval <= 0 {
		close(s.done)
		return s
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
	return s
}

func (s *sweeper) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.done
}

type slidingBucket struct {
	hits   []time.Time
	window time.Duration
}

// evict drops hits at or before cutoff. hits is kept in ascending order.
func (b *slidingBucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}

// SlidingWindow is the in-process sliding-window log limiter. Buckets live in
// a sharded concurrent map; each admit runs under its shard's lock.
type SlidingWindow struct {
	buckets cmap.ConcurrentMap[string, *slidingBucket]
	now     func() time.Time
	sweeper *sweeper
}

func NewSlidingWindow(opts ...Option) *SlidingWindow {
	o := buildOptions(opts)
	l := &SlidingWindow{
		buckets: cmap.New[*slidingBucket](),
		now:     o.now,
	}
	l.sweeper = startSweeper(o.cleanup, l.sweep)
	return l
}

func (l *SlidingWindow) Admit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return rejectAll(limit), nil
	}

	now := l.now()
	var d Decision
	l.buckets.Upsert(key, nil, func(exist bool, b *slidingBucket, _ *slidingBucket) *slidingBucket {
		if !exist || b == nil {
			b = &slidingBucket{}
		}
		b.window = window
		b.evict(now.Add(-window))

		if len(b.hits) >= limit {
			d = Decision{
				Allowed:    false,
				Limit:      limit,
				RetryAfter: b.hits[0].Add(window).Sub(now),
			}
			return b
		}

		b.hits = append(b.hits, now)
		d = Decision{Allowed: true, Limit: limit, Remaining: limit - len(b.hits)}
		return b
	})
	return d, nil
}

func (l *SlidingWindow) Reset(_ context.Context, key string) error {
	l.buckets.Remove(key)
	return nil
}

// Close stops the background sweep.
func (l *SlidingWindow) Close() error {
	l.sweeper.stop()
	return nil
}

func (l *SlidingWindow) sweep() {
	now := l.now()
	for _, key := range l.buckets.Keys() {
		l.buckets.RemoveCb(key, func(_ string, b *slidingBucket, exists bool) bool {
			if !exists || b == nil {
				return false
			}
			b.evict(now.Add(-b.window))
			return len(b.hits) == 0
		})
	}
}

type fixedBucket struct {
	count   int
	resetAt time.Time
}

// FixedWindow is the in-process {count, resetAt} limiter.
type FixedWindow struct {
	buckets cmap.ConcurrentMap[string, *fixedBucket]
	now     func() time.Time
	sweeper *sweeper
}

func NewFixedWindow(opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	l := &FixedWindow{
		buckets: cmap.New[*fixedBucket](),
		now:     o.now,
	}
	l.sweeper = startSweeper(o.cleanup, l.sweep)
	return l
}

func (l *FixedWindow) Admit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return rejectAll(limit), nil
	}

	now := l.now()
	var d Decision
	l.buckets.Upsert(key, nil, func(exist bool, b *fixedBucket, _ *fixedBucket) *fixedBucket {
		if !exist || b == nil || !now.Before(b.resetAt) {
			b = &fixedBucket{resetAt: now.Add(window)}
		}
		if b.count >= limit {
			d = Decision{Allowed: false, Limit: limit, RetryAfter: b.resetAt.Sub(now)}
			return b
		}
		b.count++
		d = Decision{Allowed: true, Limit: limit, Remaining: limit - b.count}
		return b
	})
	return d, nil
}

func (l *FixedWindow) Reset(_ context.Context, key string) error {
	l.buckets.Remove(key)
	return nil
}

// Close stops the background sweep.
func (l *FixedWindow) Close() error {
	l.sweeper.stop()
	return nil
}

func (l *FixedWindow) sweep() {
	now := l.now()
	for _, key := range l.buckets.Keys() {
		l.buckets.RemoveCb(key, func(_ string, b *fixedBucket, exists bool) bool {
			return exists && b != nil && !now.Before(b.resetAt)
		})
	}
}
