package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/httpx"
	"github.com/elga-io/corgi/internal/logger"
)

// RateLimiter is a per-client sliding window kept in a Redis sorted set.
// When Redis fails the request is let through.
type RateLimiter struct {
	redis     *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
	log       *logger.Logger
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.Nop()
	}
	return &RateLimiter{
		redis:     redisClient,
		limit:     limit,
		window:    window,
		keyPrefix: "corgi:ratelimit:",
		log:       log,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyPrefix + httpx.ClientIP(r)

		allowed, remaining, resetTime := rl.allowRequest(r.Context(), key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retry := int(time.Until(resetTime).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httpx.WriteStatus(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allowRequest(ctx context.Context, key string) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	zcard := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8]),
	})
	pipe.Expire(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn("Rate limiter unavailable, allowing request: %v", err)
		return true, rl.limit, now.Add(rl.window)
	}

	count := int(zcard.Val())
	if count >= rl.limit {
		resetTime := now.Add(rl.window)
		oldest, err := rl.redis.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			resetTime = time.Unix(0, int64(oldest[0].Score)).Add(rl.window)
		}
		return false, 0, resetTime
	}

	return true, max(rl.limit-count-1, 0), now.Add(rl.window)
}
