package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/testutil"
)

func TestRateLimit_NilClientAllows(t *testing.T) {
	router := gin.New()
	router.GET("/x", RateLimit(nil, 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestFixedWindow_Allow(t *testing.T) {
	client := testutil.OpenRedis(t)
	ctx := context.Background()
	l := NewFixedWindow(client, 2, time.Minute)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC) }
	key := testutil.UniqueID("rl")
	t.Cleanup(func() {
		client.Del(context.Background(), fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Unix()))
	})

	ok, remaining, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, remaining, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, remaining)

	ok, _, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	client := testutil.OpenRedis(t)
	route := "/" + testutil.UniqueID("route")

	router := gin.New()
	router.Use(ErrorHandler())
	router.GET(route, RateLimit(client, 2, time.Hour), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, route, nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

// countingLimiter allows the first limit calls per key.
type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	if l.err != nil {
		return true, 0, l.err
	}
	l.seen[key]++
	remaining := l.limit - l.seen[key]
	if remaining < 0 {
		remaining = 0
	}
	return l.seen[key] <= l.limit, remaining, nil
}

func TestRateLimitWith_RejectionUsesErrorBody(t *testing.T) {
	limiter := &countingLimiter{limit: 1, seen: map[string]int{}}
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/x", RateLimitWith(limiter, 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Params  map[string]any `json:"params"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeRateLimited, body.Code)
	assert.NotEmpty(t, body.Message)
	assert.Equal(t, float64(60), body.Params["retry_after_seconds"])
	assert.Equal(t, float64(1), body.Params["limit"])
}

func TestRateLimitWith_KeysByUserAndRoute(t *testing.T) {
	limiter := &countingLimiter{limit: 1, seen: map[string]int{}}
	router := gin.New()
	router.Use(ErrorHandler())
	withUser := func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			SetUser(c, AuthenticatedUser{ID: id})
		}
	}
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.GET("/a", withUser, RateLimitWith(limiter, 1, time.Minute), ok)
	router.GET("/b", withUser, RateLimitWith(limiter, 1, time.Minute), ok)

	call := func(path, user string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Test-User", user)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("/a", "u-1"))
	assert.Equal(t, http.StatusNoContent, call("/a", "u-2"), "users have separate windows")
	assert.Equal(t, http.StatusNoContent, call("/b", "u-1"), "routes have separate windows")
	assert.Equal(t, http.StatusTooManyRequests, call("/a", "u-1"))
	assert.Contains(t, limiter.seen, "user:u-1:/a")
}

func TestRateLimitWith_LimiterErrorAllows(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis: connection refused")}
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/x", RateLimitWith(limiter, 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
