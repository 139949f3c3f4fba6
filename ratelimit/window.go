// Package ratelimit meters outbound platform calls with a sliding window:
// no more than maxCalls starts in any trailing period.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults for the outbound SDK limiter.
const (
	DefaultMaxCalls = 25
	DefaultPeriod   = time.Second
)

// Window is a mutex-guarded queue of start timestamps. The mutex is held
// across the wait, so concurrent acquirers line up instead of stampeding the
// moment a slot frees.
type Window struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	stamps   []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a window admitting maxCalls starts per trailing period.
func New(maxCalls int, period time.Duration) *Window {
	if maxCalls < 1 {
		maxCalls = 1
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Window{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a start slot is available or ctx is done, then
// records the start.
func (w *Window) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	for len(w.stamps) >= w.maxCalls {
		wait := w.period - now.Sub(w.stamps[0])
		if wait > 0 {
			if err := w.sleep(ctx, wait); err != nil {
				return err
			}
		}
		now = w.now()
		w.prune(now)
	}
	w.stamps = append(w.stamps, now)
	return nil
}

// prune drops stamps that fell out of the trailing window.
func (w *Window) prune(now time.Time) {
	cut := now.Add(-w.period)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cut) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
