package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RateLimiter bounds how many function invocations a single domain may run
// inside a rolling window. Allow reports whether the invocation may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, domainID string) (bool, error)
}

// NopRateLimiter admits everything. Useful for tests and single-tenant
// deployments.
type NopRateLimiter struct{}

func (NopRateLimiter) Allow(ctx context.Context, domainID string) (bool, error) {
	return true, nil
}

const (
	// DefaultRateLimit is the per-domain invocation budget per window.
	DefaultRateLimit = 1000
	// DefaultRateWindow is the width of the rate limit window.
	DefaultRateWindow = time.Hour
)

// RedisRateLimiter counts invocations per domain in fixed windows keyed by
// window start, so all worker processes sharing the Redis server share the
// budget.
type RedisRateLimiter struct {
	pool   *redis.Pool
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a limiter over an existing Redis pool. A
// limit or window of zero falls back to the defaults.
func NewRedisRateLimiter(pool *redis.Pool, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateLimiter{
		pool:   pool,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, domainID string) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("rate limiter connection: %w", err)
	}
	defer conn.Close()

	windowSec := int64(r.window / time.Second)
	bucket := time.Now().Unix() / windowSec
	key := fmt.Sprintf("%sratelimit:%s:%d", r.prefix, domainID, bucket)

	count, err := redis.Int(conn.Do("INCR", key))
	if err != nil {
		return false, fmt.Errorf("rate limiter incr: %w", err)
	}
	if count == 1 {
		// First hit in the window owns the expiry.
		if _, err := conn.Do("EXPIRE", key, windowSec); err != nil {
			return false, fmt.Errorf("rate limiter expire: %w", err)
		}
	}
	return count <= r.limit, nil
}
