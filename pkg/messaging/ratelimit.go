package messaging

import (
	"sync"
	"time"
)

const (
	rateLimitWindow = 10 * time.Second
	rateLimitMax    = 20
)

// rateLimiter is a per-sender sliding-window counter applied to live inbound
// messages. Offline sync batches and control messages bypass it.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time // injectable for tests
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		window: rateLimitWindow,
		max:    rateLimitMax,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one arrival from sender and reports whether it is within the
// window cap. Each sender gets an independent window.
func (rl *rateLimiter) Allow(sender string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	kept := rl.hits[sender][:0]
	for _, t := range rl.hits[sender] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.max {
		rl.hits[sender] = kept
		return false
	}
	rl.hits[sender] = append(kept, now)
	return true
}
