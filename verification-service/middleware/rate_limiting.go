package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key within a fixed window. This is the coarse
// per-IP guard in front of the token endpoints; the authoritative per-subject
// sliding window lives in the ratelimit package.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitConfig - per-IP rate limiter configuration
type RateLimitConfig struct {
	MaxRequests int
	TimeWindow  time.Duration

	// FailOpen admits requests when the limiter backend errors; the default
	// is to deny them.
	FailOpen bool
}

// RedisLimiter counts per-key requests in Redis so the limit holds across
// replicas
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments the window counter for key and reports whether it is
// within the limit
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

type localWindow struct {
	count      int
	resetAt    time.Time
	lastAccess time.Time
}

// LocalLimiter is the in-process fallback used when Redis is not available.
// Good enough for a single replica; not authoritative across instances.
type LocalLimiter struct {
	mutex sync.Mutex
	store map[string]*localWindow
}

// NewLocalLimiter creates an in-memory limiter and starts its cleanup loop
func NewLocalLimiter(cleanupInterval time.Duration) *LocalLimiter {
	limiter := &LocalLimiter{store: make(map[string]*localWindow)}
	go limiter.cleanup(cleanupInterval)
	return limiter
}

func (l *LocalLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		l.mutex.Lock()
		now := time.Now()
		for key, w := range l.store {
			if now.Sub(w.lastAccess) > 24*time.Hour {
				delete(l.store, key)
			}
		}
		l.mutex.Unlock()
	}
}

// Allow implements Limiter
func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	w, exists := l.store[key]

	if !exists || now.After(w.resetAt) {
		l.store[key] = &localWindow{count: 1, resetAt: now.Add(window), lastAccess: now}
		return true, nil
	}

	w.lastAccess = now
	if w.count >= limit {
		return false, nil
	}

	w.count++
	return true, nil
}

// RateLimitMiddleware guards a route group with a per-IP request limit
func RateLimitMiddleware(limiter Limiter, scope string, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", scope, c.ClientIP())

		allowed, err := limiter.Allow(c.Request.Context(), key, config.MaxRequests, config.TimeWindow)
		if err != nil {
			if config.FailOpen {
				c.Next()
				return
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"message": "Rate limiting is unavailable. Please try again later.",
			})
			c.Abort()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"message": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
