package upbit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter throttles requests under the exchange's published limits using
// a sliding window per tier.
type RateLimiter struct {
	mu        sync.Mutex
	perSecond int
	perMinute int
	secWindow []time.Time
	minWindow []time.Time
}

// NewRateLimiter returns a limiter allowing perSecond requests per second and
// perMinute per minute.
func NewRateLimiter(perSecond, perMinute int) *RateLimiter {
	return &RateLimiter{
		perSecond: perSecond,
		perMinute: perMinute,
	}
}

// Wait blocks until a request slot is available or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.secWindow = prune(r.secWindow, now.Add(-time.Second))
		r.minWindow = prune(r.minWindow, now.Add(-time.Minute))

		if len(r.secWindow) < r.perSecond && len(r.minWindow) < r.perMinute {
			r.secWindow = append(r.secWindow, now)
			r.minWindow = append(r.minWindow, now)
			r.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if len(r.secWindow) >= r.perSecond {
			wait = r.secWindow[0].Add(time.Second).Sub(now)
		} else {
			wait = r.minWindow[0].Add(time.Minute).Sub(now)
		}
		r.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
