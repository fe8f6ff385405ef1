// Package server implements a token bucket rate limiter for per-connection
// throttling of requests.
package server

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	return newRateLimiterWithClock(capacity, interval, time.Now)
}

func newRateLimiterWithClock(capacity int, interval time.Duration, now func() time.Time) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      float64(capacity) / interval.Seconds(),
		lastCheck: now(),
		now:       now,
	}
}

// allow takes one token, refilling the bucket for the time elapsed since the
// previous call.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastCheck).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.capacity)
	}
	rl.lastCheck = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
