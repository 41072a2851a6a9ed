package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound API calls so a client stays inside a provider's
// request budget instead of burning its retry budget on 429s.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket is a simple refilling bucket: capacity tokens, refillRate
// tokens added per second.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	add := int(elapsed.Seconds()) * tb.refillRate
	if add > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+add)
		tb.lastRefill = now
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// None is a Limiter that never blocks, for clients without a configured
// request budget.
type None struct{}

func (None) Wait(context.Context) error { return nil }
func (None) Allow() bool                { return true }
