package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/garudex-labs/caracal/internal/platform/logging"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter implements the per-principal sliding-window limiter on issue
// calls (spec.md §4.H): a Redis sorted set per window, scored by request
// time, trimmed of anything older than the window on every check. It is
// fail-open: any Redis error permits the request and only logs, since a
// rate limiter outage must never block issuance.
type RateLimiter struct {
	redis     redis.Cmdable
	perMinute int
	perHour   int
	timeout   time.Duration
	log       *logging.Logger
}

// NewRateLimiter builds a RateLimiter. redisClient may be nil, in which
// case Allow always permits (no distributed state to consult).
func NewRateLimiter(redisClient redis.Cmdable, perMinute, perHour int, timeout time.Duration, log *logging.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, perMinute: perMinute, perHour: perHour, timeout: timeout, log: log}
}

// Allow reports whether issuerID may issue another mandate now, consulting
// both the per-minute and per-hour windows.
func (r *RateLimiter) Allow(ctx context.Context, issuerID string, now time.Time) bool {
	if r.redis == nil {
		return true
	}

	okMinute, err := r.allowWindow(ctx, issuerID, "minute", time.Minute, r.perMinute, now)
	if err != nil {
		r.warn(issuerID, err)
		return true
	}
	if !okMinute {
		return false
	}

	okHour, err := r.allowWindow(ctx, issuerID, "hour", time.Hour, r.perHour, now)
	if err != nil {
		r.warn(issuerID, err)
		return true
	}
	return okHour
}

func (r *RateLimiter) warn(issuerID string, err error) {
	if r.log == nil {
		return
	}
	r.log.WithField("principal_id", issuerID).WithError(err).Warn("rate limiter check failed, failing open")
}

func (r *RateLimiter) allowWindow(ctx context.Context, issuerID, label string, window time.Duration, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, label, issuerID)
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := now.Add(-window).UnixNano()

	pipe := r.redis.TxPipeline()
	pipe.ZRemRangeByScore(rctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(rctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(rctx, key)
	pipe.Expire(rctx, key, window)

	if _, err := pipe.Exec(rctx); err != nil {
		return false, err
	}

	return card.Val() <= int64(limit), nil
}
