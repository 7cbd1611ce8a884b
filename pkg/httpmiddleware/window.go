package httpmiddleware

import (
	"context"
	"sync"
	"time"
)

// window holds the counts of the current and previous fixed windows of one
// key. The estimate weights the previous count by its remaining overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// WindowLimiter is an in-process sliding window Limiter.
type WindowLimiter struct {
	max   int
	size  time.Duration
	mu    sync.Mutex
	byKey map[string]*window
}

// NewWindowLimiter allows limit requests per size for each key.
func NewWindowLimiter(limit int, size time.Duration) *WindowLimiter {
	return &WindowLimiter{
		max:   limit,
		size:  size,
		byKey: make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.size)
	w, ok := l.byKey[key]
	switch {
	case !ok:
		w = &window{start: start}
		l.byKey[key] = w
	case start.Sub(w.start) >= 2*l.size:
		*w = window{start: start}
	case start.After(w.start):
		*w = window{start: start, prev: w.curr}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	estimate := w.prev*max(overlap, 0) + w.curr
	d := Decision{ResetAt: w.start.Add(l.size)}
	if estimate >= float64(l.max) {
		return d, nil
	}

	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-estimate-1), 0)
	return d, nil
}

// evict drops keys idle for two windows.
func (l *WindowLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.byKey {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.byKey, key)
		}
	}
}

// StartCleanup evicts idle keys every two windows until ctx is done.
func (l *WindowLimiter) StartCleanup(ctx context.Context) {
	go func() {
		t := time.NewTicker(2 * l.size)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()
}
