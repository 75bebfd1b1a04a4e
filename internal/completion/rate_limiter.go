package completion

import (
	"context"
	"sync"
	"time"
)

// RateLimiter hands out evenly spaced call slots to concurrent callers.
type RateLimiter struct {
	mu    sync.Mutex
	gap   time.Duration
	slots time.Time
}

func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	return &RateLimiter{gap: time.Second / time.Duration(max(requestsPerSecond, 1))}
}

// reserve books the next free slot and returns how long the caller must wait for it.
func (r *RateLimiter) reserve(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots
	if slot.Before(now) {
		slot = now
	}
	r.slots = slot.Add(r.gap)
	return slot.Sub(now)
}

// WaitTurn blocks until the caller's slot arrives or ctx is done. A slot
// abandoned on cancellation is not handed back.
func (r *RateLimiter) WaitTurn(ctx context.Context) error {
	wait := r.reserve(time.Now())
	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
