// Package ratelimit provides a blocking sliding-window rate limiter.
//
// Both remote APIs ban clients that exceed a fixed number of requests per
// window, so the limiter has to be exact: no more than n requests may start
// within any window of the configured duration. A token bucket admits
// burst + refill starts inside a rolling window, which is why this is a
// timestamp window rather than golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks the caller until a request slot is available.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Window admits at most n starts within any rolling window of the given
// period. Safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	n      int
	period time.Duration
	starts []time.Time

	// Injection points for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewWindow creates a limiter allowing n requests per period.
func NewWindow(n int, period time.Duration) *Window {
	return &Window{
		n:      n,
		period: period,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Wait blocks until a slot is available or the context is canceled. The slot
// is consumed at the moment Wait returns nil.
func (w *Window) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.evict(now)
		if len(w.starts) < w.n {
			w.starts = append(w.starts, now)
			w.mu.Unlock()
			return nil
		}
		// The oldest recorded start leaves the window first.
		wait := w.starts[0].Add(w.period).Sub(now)
		w.mu.Unlock()

		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// evict drops starts that have aged out of the window. Caller holds mu.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.starts) && !w.starts[i].After(cutoff) {
		i++
	}
	w.starts = w.starts[i:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
