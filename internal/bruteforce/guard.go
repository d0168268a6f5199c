// Package bruteforce tracks failed logins per (username, ip) over a sliding
// window. Entries are pruned on every touch, so no sweeper is needed.
package bruteforce

import (
	"sync"
	"time"
)

// Guard is safe for concurrent use.
type Guard struct {
	window    time.Duration
	threshold int

	mu       sync.Mutex
	attempts map[string][]time.Time

	now func() time.Time // test hook
}

func New(window time.Duration, threshold int) *Guard {
	return &Guard{
		window:    window,
		threshold: threshold,
		attempts:  make(map[string][]time.Time),
		now:       time.Now,
	}
}

func key(username, ip string) string { return username + ":" + ip }

// RecordFailure appends a failure for (username, ip) and returns how many
// failures remain inside the window, including this one.
func (g *Guard) RecordFailure(username, ip string) int {
	now := g.now()
	k := key(username, ip)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.prune(k, now)
	kept = append(kept, now)
	g.attempts[k] = kept
	return len(kept)
}

// ShouldBlock reports whether (username, ip) has reached the threshold.
func (g *Guard) ShouldBlock(username, ip string) bool {
	now := g.now()
	k := key(username, ip)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.prune(k, now)
	if len(kept) == 0 {
		delete(g.attempts, k)
		return false
	}
	g.attempts[k] = kept
	return len(kept) >= g.threshold
}

// ResetOnSuccess clears the entry after a successful login.
func (g *Guard) ResetOnSuccess(username, ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, key(username, ip))
}

// Threshold returns the configured block threshold.
func (g *Guard) Threshold() int { return g.threshold }

// prune drops timestamps older than the window. Caller holds the lock.
func (g *Guard) prune(k string, now time.Time) []time.Time {
	old := g.attempts[k]
	kept := old[:0]
	for _, t := range old {
		if now.Sub(t) <= g.window {
			kept = append(kept, t)
		}
	}
	return kept
}
