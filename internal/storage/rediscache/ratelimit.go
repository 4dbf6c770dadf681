package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/coupon-engine/pkg/httpmiddleware"
)

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window limiter shared by all API replicas.
type RateLimiter struct {
	client redis.UniversalClient
	limit  int
	period time.Duration
}

// NewRateLimiter allows limit requests per key per period.
func NewRateLimiter(client redis.UniversalClient, limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, period: period}
}

// Allow increments the key's counter for the window containing now.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.period)
	resetAt := start.Add(l.period)
	k := "coupon:ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireAt(ctx, k, resetAt.Add(time.Second))
		return nil
	}); err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "incr")
	}

	n := int(incr.Val())
	return httpmiddleware.Decision{
		Allowed:   n <= l.limit,
		Remaining: max(l.limit-n, 0),
		ResetAt:   resetAt,
	}, nil
}
