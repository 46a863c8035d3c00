package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

// Limiter bounds calls to a sliding time window. Wait blocks until
// admitting another call would keep the trailing window at or below
// the quota, then records the call.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	calls  []time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		window: window,
		max:    maxCalls,
		calls:  make([]time.Time, 0, maxCalls),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks cooperatively until a slot is free, then records the call.
// The only error it can return is the context's.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.calls) < l.max {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		// Oldest call ages out first; wait until it leaves the window.
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		logger.Debug("RATE", "Quota reached (%d/%d), waiting %v", l.max, l.max, wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of calls currently recorded in the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.calls)
}

// prune drops entries older than the window. Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = l.calls[i:]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
