package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisConn is a lazily created go-redis client. Construction never dials;
// when no address was configured every use fails with ErrStoreNotConfigured.
type RedisConn struct {
	addr     string
	password string
	db       int

	once   sync.Once
	client *redis.Client
}

func NewRedisConn(addr, password string, db int) *RedisConn {
	return &RedisConn{addr: addr, password: password, db: db}
}

// NewRedisConnFromClient wraps an existing client.
func NewRedisConnFromClient(client *redis.Client) *RedisConn {
	c := &RedisConn{client: client}
	c.once.Do(func() {})
	return c
}

func (c *RedisConn) Client() (*redis.Client, error) {
	c.once.Do(func() {
		if c.addr == "" {
			return
		}
		c.client = redis.NewClient(&redis.Options{
			Addr:     c.addr,
			Password: c.password,
			DB:       c.db,
		})
	})
	if c.client == nil {
		return nil, ErrStoreNotConfigured
	}
	return c.client, nil
}

// Configured reports whether an address (or client) is available.
func (c *RedisConn) Configured() bool {
	return c != nil && (c.addr != "" || c.client != nil)
}

func (c *RedisConn) Ping(ctx context.Context) error {
	client, err := c.Client()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (c *RedisConn) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// slidingScript trims the log, checks it against the limit and records the
// hit in one round trip. Scores and ARGV times are unix milliseconds.
// Returns {allowed, count, retry_or_reset_ms}.
var slidingScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, count, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// fixedScript increments the window counter and makes sure it expires.
// Returns {count, ttl_ms}.
var fixedScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisSlidingWindow keeps the admission log in a sorted set per key, so
// every replica sharing the Redis instance sees the same history.
type RedisSlidingWindow struct {
	conn   *RedisConn
	prefix string
	now    func() time.Time
}

func NewRedisSlidingWindow(conn *RedisConn) *RedisSlidingWindow {
	return &RedisSlidingWindow{conn: conn, prefix: "rl:sw:", now: time.Now}
}

func (l *RedisSlidingWindow) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return rejectAll(limit), nil
	}
	client, err := l.conn.Client()
	if err != nil {
		return Decision{}, err
	}

	now := l.now().UnixMilli()
	res, err := slidingScript.Run(ctx, client, []string{l.prefix + key},
		now, window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding admit: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis sliding admit: unexpected reply %v", res)
	}

	count := int(res[1])
	if res[0] == 0 {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			RetryAfter: time.Duration(res[2]) * time.Millisecond,
		}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count}, nil
}

func (l *RedisSlidingWindow) Reset(ctx context.Context, key string) error {
	client, err := l.conn.Client()
	if err != nil {
		return err
	}
	return client.Del(ctx, l.prefix+key).Err()
}

// RedisFixedWindow is the INCR/PEXPIRE counter. Rejected attempts still bump
// the counter, which never admits more than limit per window.
type RedisFixedWindow struct {
	conn   *RedisConn
	prefix string
}

func NewRedisFixedWindow(conn *RedisConn) *RedisFixedWindow {
	return &RedisFixedWindow{conn: conn, prefix: "rl:fw:"}
}

func (l *RedisFixedWindow) Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return rejectAll(limit), nil
	}
	client, err := l.conn.Client()
	if err != nil {
		return Decision{}, err
	}

	res, err := fixedScript.Run(ctx, client, []string{l.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis fixed admit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis fixed admit: unexpected reply %v", res)
	}

	count := int(res[0])
	if count > limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			RetryAfter: time.Duration(res[1]) * time.Millisecond,
		}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count}, nil
}

func (l *RedisFixedWindow) Reset(ctx context.Context, key string) error {
	client, err := l.conn.Client()
	if err != nil {
		return err
	}
	return client.Del(ctx, l.prefix+key).Err()
}

