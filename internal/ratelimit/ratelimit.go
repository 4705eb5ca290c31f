// Package ratelimit implements a fixed-window request limiter used to bound
// load on the shared ledger connection.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per key within fixed windows. A window opens on the
// first request and resets once the wall clock leaves it; this is not a
// sliding window, so a burst straddling the boundary can see up to 2x max.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	windows map[string]*window
}

func New(windowSize time.Duration, max int) *Limiter {
	return &Limiter{
		window:  windowSize,
		max:     max,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow reports whether another request for key fits in the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		if len(l.windows) > 1024 {
			l.prune(now)
		}
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// prune drops expired windows. Called under l.mu.
func (l *Limiter) prune(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
