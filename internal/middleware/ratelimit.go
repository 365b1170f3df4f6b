package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tvcast/internal/domain"

	"github.com/gin-gonic/gin"
)

// InMemoryRateLimiter is a sliding-window limiter per key (client IP or user ID).
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewInMemoryRateLimiter starts a sweeper that drops idle keys until ctx is done.
func NewInMemoryRateLimiter(ctx context.Context, limit int, window time.Duration) *InMemoryRateLimiter {
	r := &InMemoryRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
	go r.cleanup(ctx)
	return r
}

func (r *InMemoryRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	valid := prune(r.requests[key], now.Add(-r.window))
	if len(valid) >= r.limit {
		r.requests[key] = valid
		return false
	}
	r.requests[key] = append(valid, now)
	return true
}

func (r *InMemoryRateLimiter) cleanup(ctx context.Context) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		r.mu.Lock()
		cutoff := r.now().Add(-r.window)
		for k, times := range r.requests {
			if valid := prune(times, cutoff); len(valid) == 0 {
				delete(r.requests, k)
			} else {
				r.requests[k] = valid
			}
		}
		r.mu.Unlock()
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

type KeyFunc func(c *gin.Context) string

func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByUser keys on the authenticated user and falls back to the client IP.
func ByUser(c *gin.Context) string {
	if id := GetUserID(c); id != 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return c.ClientIP()
}

func RateLimit(limiter *InMemoryRateLimiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			abort(c, http.StatusTooManyRequests, domain.KindRateLimited, domain.ErrRateLimited)
			return
		}
		c.Next()
	}
}
