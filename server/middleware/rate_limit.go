package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// DefaultRate is the sustained per-user request rate.
	DefaultRate = rate.Limit(1)
	// DefaultBurst is how many requests a user may send at once.
	DefaultBurst = 5
	// maxTrackedKeys bounds limiter memory; idle keys are forgotten after limiterTTL.
	maxTrackedKeys = 10000
	limiterTTL     = 30 * time.Minute
)

// RateLimiter provides per-key token bucket rate limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limits *expirable.LRU[string, *rate.Limiter]
	rate   rate.Limit
	burst  int
}

// NewRateLimiter creates a new rate limiter allowing r requests per second
// with the given burst. Non-positive values take the defaults.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	if r <= 0 {
		r = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		limits: expirable.NewLRU[string, *rate.Limiter](maxTrackedKeys, nil, limiterTTL),
		rate:   r,
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits.Get(key); ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limits.Add(key, limiter)
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}
