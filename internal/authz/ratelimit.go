package authz

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type limitWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window per-key counter. A key's window opens on
// its first Record and expires lazily on the next Check after the window
// has elapsed. Sweep removes long-idle entries so the map does not grow
// with one entry per key forever.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*limitWindow
	clock   func() time.Time
}

// NewRateLimiter builds a limiter allowing max operations per window per
// key. max <= 0 disables limiting entirely.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		entries: make(map[string]*limitWindow),
		clock:   time.Now,
	}
}

// Check reports whether key may perform another operation right now.
// It never increments the counter.
func (l *RateLimiter) Check(key string) Decision {
	if l.max <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	w := l.entries[key]
	if w != nil && now.Sub(w.start) >= l.window {
		delete(l.entries, key)
		w = nil
	}
	if w == nil {
		return Decision{Allowed: true, Remaining: l.max, ResetAt: now.Add(l.window)}
	}
	remaining := l.max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count < l.max,
		Remaining: remaining,
		ResetAt:   w.start.Add(l.window),
	}
}

// Record counts one operation against key, opening a window if needed.
func (l *RateLimiter) Record(key string) {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	w := l.entries[key]
	if w == nil || now.Sub(w.start) >= l.window {
		l.entries[key] = &limitWindow{start: now, count: 1}
		return
	}
	w.count++
}

// Sweep drops entries whose window expired more than idle ago. The daemon
// runs it periodically from the retention loop.
func (l *RateLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	removed := 0
	for key, w := range l.entries {
		if now.Sub(w.start) >= l.window+idle {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
