package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every request to one API.
// Callers reserve a token up front and sleep for their turn, so
// concurrent waiters are served in reservation order.
type RateLimiter struct {
	burst float64
	rate  float64 // Tokens per second; <= 0 disables limiting
	now   func() time.Time

	mu     sync.Mutex
	tokens float64 // Negative while reservations are outstanding
	last   time.Time
}

// NewRateLimiter allows bursts of burst requests refilled at perSecond.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	r := &RateLimiter{burst: float64(burst), rate: perSecond, now: time.Now}
	r.tokens = r.burst
	r.last = r.now()
	return r
}

// Wait blocks until the caller's reserved token is due or ctx is done.
// A cancelled wait hands its token back.
func (r *RateLimiter) Wait(ctx context.Context) error {
	delay := r.reserve()
	if delay <= 0 {
		return nil
	}
	if err := SleepContext(ctx, delay); err != nil {
		r.mu.Lock()
		r.tokens++
		r.mu.Unlock()
		return err
	}
	return nil
}

// Allow takes a token only if one is available now.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked()
	if r.rate > 0 && r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// reserve takes a token, possibly borrowing against future refills, and
// returns how long until it is backed.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rate <= 0 {
		return 0
	}
	r.advanceLocked()
	r.tokens--
	if r.tokens >= 0 {
		return 0
	}
	return time.Duration(-r.tokens / r.rate * float64(time.Second))
}

func (r *RateLimiter) advanceLocked() {
	now := r.now()
	if r.rate > 0 {
		r.tokens += now.Sub(r.last).Seconds() * r.rate
		if r.tokens > r.burst {
			r.tokens = r.burst
		}
	}
	r.last = now
}
