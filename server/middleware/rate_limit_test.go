package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_BurstPerKey(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2)

	assert.True(t, rl.Allow("user-a"))
	assert.True(t, rl.Allow("user-a"))
	assert.False(t, rl.Allow("user-a"))

	// Keys do not share buckets.
	assert.True(t, rl.Allow("user-b"))
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < DefaultBurst; i++ {
		assert.True(t, rl.Allow("u"))
	}
	assert.False(t, rl.Allow("u"))
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 1)
	assert.NoError(t, rl.Wait(context.Background(), "u"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "u"))
}
