package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_AllowWithinLimit(t *testing.T) {
	l := NewLocalLimiter(time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "ratelimit:resend:203.0.113.7", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := l.Allow(ctx, "ratelimit:resend:203.0.113.7", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter(time.Hour)
	ctx := context.Background()

	allowed, err := l.Allow(ctx, "ratelimit:resend:203.0.113.7", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = l.Allow(ctx, "ratelimit:resend:198.51.100.9", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "another client must have its own budget")
}

func TestLocalLimiter_WindowResets(t *testing.T) {
	l := NewLocalLimiter(time.Hour)
	ctx := context.Background()

	allowed, err := l.Allow(ctx, "key", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = l.Allow(ctx, "key", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(20 * time.Millisecond)

	allowed, err = l.Allow(ctx, "key", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, errors.New("backend down")
}

func performRequest(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", handler, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req, err := http.NewRequest(http.MethodGet, "/probe", nil)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLocalLimiter(time.Hour)
	handler := RateLimitMiddleware(l, "resend", RateLimitConfig{MaxRequests: 1, TimeWindow: time.Minute})

	router := gin.New()
	router.GET("/probe", handler, func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/probe", nil)
	require.NoError(t, err)
	router.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitMiddleware_BackendFailureFailsClosedByDefault(t *testing.T) {
	handler := RateLimitMiddleware(failingLimiter{}, "resend", RateLimitConfig{MaxRequests: 5, TimeWindow: time.Minute})
	recorder := performRequest(t, handler)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
}

func TestRateLimitMiddleware_BackendFailureFailsOpenWhenConfigured(t *testing.T) {
	handler := RateLimitMiddleware(failingLimiter{}, "resend", RateLimitConfig{MaxRequests: 5, TimeWindow: time.Minute, FailOpen: true})
	recorder := performRequest(t, handler)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
