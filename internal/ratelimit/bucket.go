// Package ratelimit provides the global admit-or-reject token bucket that
// fronts every request. Capacity is twice the refill rate, allowing short
// bursts; a rejected caller gets a hint of how long until the next token.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket guarded by one mutex. Acquire never
// waits; callers map a rejection to HTTP 429.
type Bucket struct {
	rps      float64
	capacity float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	now func() time.Time // test hook
}

// NewBucket creates a bucket refilling at rps tokens per second with
// capacity 2*rps, starting full.
func NewBucket(rps int) *Bucket {
	capacity := float64(2 * rps)
	return &Bucket{
		rps:        float64(rps),
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Acquire consumes one token if available. On rejection it returns the
// time until the next token becomes available.
func (b *Bucket) Acquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1.0 - b.tokens) / b.rps * float64(time.Second))
	return false, wait
}

// Capacity returns the burst capacity, for startup logging.
func (b *Bucket) Capacity() int { return int(b.capacity) }
