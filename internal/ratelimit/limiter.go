// Package ratelimit bounds how often one identity may be admitted.
//
// Two accounting strategies sit behind one Limiter interface:
//
//   - sliding: a log of admitted timestamps per key. Exact: no identity ever
//     gets more than limit admissions in any window-long interval. Memory is
//     O(limit) per key. This is the default.
//   - fixed: a {count, resetAt} counter per key. O(1) memory, but a caller
//     can squeeze up to 2*limit admissions around a window boundary.
//
// Both strategies are available in-process and on Redis. Every admit is a
// single atomic admit-and-record per key, so concurrent callers sharing a key
// cannot both slip through the last slot.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

type Strategy string

const (
	StrategySliding Strategy = "sliding"
	StrategyFixed   Strategy = "fixed"
)

// ErrStoreNotConfigured is returned on first use of a shared-store limiter
// whose connection target was never configured.
var ErrStoreNotConfigured = errors.New("ratelimit: shared store not configured")

// Decision is the outcome of one admit attempt.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is set on rejection: when the next slot frees up.
	RetryAfter time.Duration
}

type Limiter interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// New builds the limiter for the configured backend and strategy. Redis
// limiters are lazy: nothing is dialed until the first Admit.
func New(backend Backend, strategy Strategy, conn *RedisConn) (Limiter, error) {
	switch backend {
	case BackendMemory:
		switch strategy {
		case StrategySliding:
			return NewSlidingWindow(), nil
		case StrategyFixed:
			return NewFixedWindow(), nil
		}
	case BackendRedis:
		if conn == nil {
			return nil, fmt.Errorf("redis backend requires a connection")
		}
		switch strategy {
		case StrategySliding:
			return NewRedisSlidingWindow(conn), nil
		case StrategyFixed:
			return NewRedisFixedWindow(conn), nil
		}
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
	return nil, fmt.Errorf("unknown rate limit strategy %q", strategy)
}

func rejectAll(limit int) Decision {
	return Decision{Allowed: false, Limit: limit}
}
