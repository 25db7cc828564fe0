package qobserve

import (
	"context"
	"sync"
	"time"
)

/*
RateLimiter is a token bucket guarding submissions to one device. Each
admitted unit takes a token; tokens come back one per refillRate, up to
maxTokens, so a device accepts short bursts but never more than its
sustained rate.
*/
type RateLimiter struct {
	tokens     int           // Current number of available tokens
	maxTokens  int           // Maximum token capacity
	refillRate time.Duration // Time between token replenishments
	lastRefill time.Time     // Last time tokens were added
	mu         sync.Mutex
}

/*
NewRateLimiter creates a full bucket.

Example:

	limiter := NewRateLimiter(100, 10*time.Millisecond) // bursts of 100, 100 units/s sustained
*/
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: now,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// Wait blocks until a token is taken or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay, ok := rl.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// reserve takes a token, or reports how long until the next one arrives.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return 0, true
	}
	return max(time.Until(rl.lastRefill.Add(rl.refillRate)), time.Millisecond), false
}

/*
refill adds tokens based on elapsed time. Only complete periods count, and
lastRefill moves forward by exactly those periods so partial progress
toward the next token is kept. The caller must hold the mutex.
*/
func (rl *RateLimiter) refill() {
	if rl.refillRate <= 0 {
		rl.tokens = rl.maxTokens
		return
	}

	periods := time.Since(rl.lastRefill) / rl.refillRate
	if periods <= 0 {
		return
	}

	rl.tokens = min(rl.maxTokens, rl.tokens+int(periods))
	rl.lastRefill = rl.lastRefill.Add(periods * rl.refillRate)
}
