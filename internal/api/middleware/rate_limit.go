package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/pkg/logger"
)

const rateLimitPrefix = "herald:ratelimit:"

// FixedWindow counts requests per key in Redis windows of fixed length.
type FixedWindow struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewFixedWindow creates a limiter allowing limit requests per window.
func NewFixedWindow(rdb *redis.Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow increments the counter for key and reports whether the request fits
// in the current window, plus the remaining allowance.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, int, error) {
	start := l.now().Truncate(l.window)
	windowKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, start.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.ExpireNX(ctx, windowKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("rate limit counter: %w", err)
	}

	n := int(incr.Val())
	remaining := l.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return n <= l.limit, remaining, nil
}

// Limiter decides whether the request identified by key fits its window.
// *FixedWindow implements it.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

// RateLimit limits each caller (user id when authenticated, else client IP)
// per route. A nil client or a Redis error lets the request through.
func RateLimit(rdb *redis.Client, limit int, window time.Duration) gin.HandlerFunc {
	if rdb == nil || limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return RateLimitWith(NewFixedWindow(rdb, limit, window), limit, window)
}

// RateLimitWith is RateLimit on an arbitrary Limiter. Rejections are
// attached with c.Error and rendered by ErrorHandler.
func RateLimitWith(limiter Limiter, limit int, window time.Duration) gin.HandlerFunc {
	retryAfter := int(window.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if u, ok := CurrentUser(c); ok {
			subject = "user:" + u.ID
		}
		key := subject + ":" + c.FullPath()

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.From(c.Request.Context()).Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			_ = c.Error(apperrors.TooManyRequests(apperrors.CodeRateLimited, "too many requests, retry later").
				WithParams(map[string]interface{}{
					"limit":               limit,
					"retry_after_seconds": retryAfter,
				}))
			c.Abort()
			return
		}
		c.Next()
	}
}
