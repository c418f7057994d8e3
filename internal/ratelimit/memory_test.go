package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindow_AdmitsExactlyLimit(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindow(WithClock(clock.Now), WithCleanupInterval(0))
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Admit(ctx, "user:1", 5, time.Minute)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Fatalf("request %d: remaining=%d", i+1, d.Remaining)
		}
		clock.Advance(time.Second)
	}

	d, _ := l.Admit(ctx, "user:1", 5, time.Minute)
	if d.Allowed {
		t.Fatalf("6th request must be rejected")
	}
	// oldest hit was 5s ago, so it leaves the window in 55s
	if d.RetryAfter != 55*time.Second {
		t.Fatalf("retry after = %s", d.RetryAfter)
	}

	other, _ := l.Admit(ctx, "user:2", 5, time.Minute)
	if !other.Allowed {
		t.Fatalf("keys must be independent")
	}
}

func TestSlidingWindow_SlotsFreeAsHitsAge(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindow(WithClock(clock.Now), WithCleanupInterval(0))
	defer l.Close()
	ctx := context.Background()

	l.Admit(ctx, "k", 2, 10*time.Second)
	clock.Advance(6 * time.Second)
	l.Admit(ctx, "k", 2, 10*time.Second)

	clock.Advance(3 * time.Second)
	if d, _ := l.Admit(ctx, "k", 2, 10*time.Second); d.Allowed {
		t.Fatalf("window still holds two hits")
	}

	// first hit is now exactly one window old and no longer counts
	clock.Advance(time.Second)
	if d, _ := l.Admit(ctx, "k", 2, 10*time.Second); !d.Allowed {
		t.Fatalf("expected a slot after the oldest hit aged out")
	}
}

func TestSlidingWindow_NoBoundaryBurst(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindow(WithClock(clock.Now), WithCleanupInterval(0))
	defer l.Close()
	ctx := context.Background()

	clock.Advance(59 * time.Second)
	for i := 0; i < 3; i++ {
		l.Admit(ctx, "k", 3, time.Minute)
	}
	clock.Advance(2 * time.Second)
	if d, _ := l.Admit(ctx, "k", 3, time.Minute); d.Allowed {
		t.Fatalf("sliding window must not reset on a wall-clock boundary")
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(WithClock(clock.Now), WithCleanupInterval(0))
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, _ := l.Admit(ctx, "k", 3, time.Minute); !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	clock.Advance(20 * time.Second)
	d, _ := l.Admit(ctx, "k", 3, time.Minute)
	if d.Allowed {
		t.Fatalf("4th request in window must be rejected")
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("retry after = %s", d.RetryAfter)
	}

	clock.Advance(40 * time.Second)
	d, _ = l.Admit(ctx, "k", 3, time.Minute)
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestLimiters_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	for name, l := range map[string]interface {
		Limiter
		Close() error
	}{
		"sliding": NewSlidingWindow(WithCleanupInterval(0)),
		"fixed":   NewFixedWindow(WithCleanupInterval(0)),
	} {
		t.Run(name, func(t *testing.T) {
			defer l.Close()
			var admitted int64
			var wg sync.WaitGroup
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Admit(context.Background(), "shared", 17, time.Hour)
					if err == nil && d.Allowed {
						atomic.AddInt64(&admitted, 1)
					}
				}()
			}
			wg.Wait()
			if admitted != 17 {
				t.Fatalf("admitted %d, want 17", admitted)
			}
		})
	}
}

func TestLimiters_NonPositiveLimitRejects(t *testing.T) {
	l := NewSlidingWindow(WithCleanupInterval(0))
	defer l.Close()
	if d, _ := l.Admit(context.Background(), "k", 0, time.Minute); d.Allowed {
		t.Fatalf("zero limit must reject")
	}
}

func TestSlidingWindow_SweepDropsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindow(WithClock(clock.Now), WithCleanupInterval(0))
	defer l.Close()

	l.Admit(context.Background(), "idle", 1, time.Second)
	l.Admit(context.Background(), "busy", 1, time.Hour)
	clock.Advance(2 * time.Second)
	l.sweep()

	if l.buckets.Has("idle") {
		t.Fatalf("idle bucket should be swept")
	}
	if !l.buckets.Has("busy") {
		t.Fatalf("bucket with live hits must survive")
	}
}

func TestReset_ClearsKey(t *testing.T) {
	l := NewFixedWindow(WithCleanupInterval(0))
	defer l.Close()
	ctx := context.Background()
	l.Admit(ctx, "k", 1, time.Minute)
	if d, _ := l.Admit(ctx, "k", 1, time.Minute); d.Allowed {
		t.Fatalf("second admit must be rejected")
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := l.Admit(ctx, "k", 1, time.Minute); !d.Allowed {
		t.Fatalf("reset key should admit again")
	}
}

func TestNew_SelectsImplementation(t *testing.T) {
	l, err := New(BackendMemory, StrategyFixed, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := l.(*FixedWindow); !ok {
		t.Fatalf("expected *FixedWindow, got %T", l)
	}
	l.(*FixedWindow).Close()

	if _, err := New(BackendMemory, "token_bucket", nil); err == nil {
		t.Fatalf("unknown strategy must fail")
	}
	if _, err := New(BackendRedis, StrategySliding, nil); err == nil {
		t.Fatalf("redis without connection must fail")
	}
}
