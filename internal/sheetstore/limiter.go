package sheetstore

import (
	"context"
	"sync"
	"time"
)

// windowLimiter admits at most limit requests per sliding window. wait
// blocks until a slot frees up or the context ends.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, now: time.Now}
}

func (l *windowLimiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.window)
		kept := l.stamps[:0]
		for _, t := range l.stamps {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		l.stamps = kept

		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wakeAt := l.stamps[0].Add(l.window)
		l.mu.Unlock()

		timer := time.NewTimer(wakeAt.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
