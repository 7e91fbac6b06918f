package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// Bounds on how long Wait sleeps between attempts.
const (
	minWaitInterval = 10 * time.Millisecond
	maxWaitInterval = time.Second
)

// RateLimiter implements domain.RateLimiter using a sliding window backed by
// Redis sorted sets and an atomic Lua script, so every scanner instance
// sharing a Redis draws from the same budget.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

// windowResult is the decoded script reply.
type windowResult struct {
	allowed bool
	count   int64
	retryIn time.Duration
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (windowResult, error) {
	if limit <= 0 || window <= 0 {
		return windowResult{}, fmt.Errorf("redis: rate limit %s: limit and window must be positive: %w", key, domain.ErrConfiguration)
	}
	res, err := rl.slidingWindow.Run(
		ctx,
		rl.client.rdb,
		[]string{rl.client.Key("ratelimit", key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return windowResult{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return parseWindowResult(res)
}

func parseWindowResult(res []int64) (windowResult, error) {
	if len(res) < 3 {
		return windowResult{}, fmt.Errorf("redis: rate limit: unexpected result length %d", len(res))
	}
	return windowResult{
		allowed: res[0] == 1,
		count:   res[1],
		retryIn: time.Duration(res[2]) * time.Microsecond,
	}, nil
}

// Allow reports whether a request for key is permitted under limit per
// window, counting it when it is.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.take(ctx, key, limit, window)
	if err != nil {
		return false, err
	}
	return res.allowed, nil
}

// Wait blocks until a request for key is allowed, sleeping until the oldest
// request in the window expires.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		res, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if res.allowed {
			return nil
		}

		timer := time.NewTimer(clampWait(res.retryIn))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func clampWait(d time.Duration) time.Duration {
	return min(max(d, minWaitInterval), maxWaitInterval)
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
