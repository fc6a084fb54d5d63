package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple in-memory sliding-window rate limiter keyed by
// client IP.
type Limiter struct {
	mu      sync.Mutex
	seen    map[string][]time.Time
	window  time.Duration
	maxHits int
}

func New(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		seen:    make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
	}
}

// Allow records a hit for key and reports whether it is within the
// window budget.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.seen[key][:0]
	for _, t := range l.seen[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.maxHits {
		l.seen[key] = kept
		return false
	}

	l.seen[key] = append(kept, now)
	return true
}

// Prune drops keys whose every hit has aged out of the window. Called
// from the background cleanup tick so idle IPs do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for key, hits := range l.seen {
		alive := false
		for _, t := range hits {
			if t.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.seen, key)
		}
	}
}
