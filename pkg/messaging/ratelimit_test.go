package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterCap(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < rateLimitMax; i++ {
		assert.True(t, rl.Allow("alice"), "arrival %d within cap", i+1)
	}
	assert.False(t, rl.Allow("alice"), "arrival %d over cap", rateLimitMax+1)
}

func TestRateLimiterPerSender(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < rateLimitMax; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	assert.False(t, rl.Allow("alice"))

	// A different sender has an untouched window.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < rateLimitMax; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	assert.False(t, rl.Allow("alice"))

	// Past the window the old arrivals fall out.
	now = now.Add(rateLimitWindow + time.Second)
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiterPartialExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter()
	rl.now = func() time.Time { return now }

	// Half the budget early in the window, half late.
	for i := 0; i < rateLimitMax/2; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	now = now.Add(6 * time.Second)
	for i := 0; i < rateLimitMax/2; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	assert.False(t, rl.Allow("alice"))

	// Five more seconds expire the first half only.
	now = now.Add(5 * time.Second)
	for i := 0; i < rateLimitMax/2; i++ {
		assert.True(t, rl.Allow("alice"), "refreshed slot %d", i+1)
	}
	assert.False(t, rl.Allow("alice"))
}
