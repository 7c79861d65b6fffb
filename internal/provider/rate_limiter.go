package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every outbound data request.
type RateLimiter struct {
	tokens         int
	maxTokens      int
	refillRate     time.Duration
	lastRefillTime time.Time
	mu             sync.Mutex
}

// NewRateLimiter allows perSecond requests per second with bursts of the
// same size. A non-positive rate disables limiting.
func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &RateLimiter{
		tokens:         perSecond,
		maxTokens:      perSecond,
		refillRate:     time.Second / time.Duration(perSecond),
		lastRefillTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done. A nil limiter
// never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		wait := rl.tryAcquire()
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// tryAcquire takes a token and returns 0, or returns how long until the
// next refill.
func (rl *RateLimiter) tryAcquire() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefillTime)
	if add := int(elapsed / rl.refillRate); add > 0 {
		rl.tokens = min(rl.tokens+add, rl.maxTokens)
		rl.lastRefillTime = rl.lastRefillTime.Add(time.Duration(add) * rl.refillRate)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return 0
	}
	return rl.refillRate - now.Sub(rl.lastRefillTime)
}
