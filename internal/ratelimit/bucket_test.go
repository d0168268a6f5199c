package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newBucket(rps int) (*Bucket, *time.Time) {
	b := NewBucket(rps)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	b.lastRefill = now
	return b, &now
}

func TestBurstExactlyTwiceRate(t *testing.T) {
	b, _ := newBucket(10)

	// A full bucket admits exactly 2*rps requests back to back.
	for i := 0; i < 20; i++ {
		ok, _ := b.Acquire()
		assert.True(t, ok, "request %d within burst capacity must be admitted", i+1)
	}

	ok, wait := b.Acquire()
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRefillOverTime(t *testing.T) {
	b, now := newBucket(10)

	for i := 0; i < 20; i++ {
		b.Acquire()
	}
	ok, _ := b.Acquire()
	assert.False(t, ok)

	// 200ms at 10 rps refills ~2 tokens.
	*now = now.Add(200 * time.Millisecond)
	ok, _ = b.Acquire()
	assert.True(t, ok)
	ok, _ = b.Acquire()
	assert.True(t, ok)
	ok, _ = b.Acquire()
	assert.False(t, ok)
}

func TestRefillCapsAtCapacity(t *testing.T) {
	b, now := newBucket(5)

	// Long idle must not accumulate beyond 2*rps.
	*now = now.Add(time.Hour)
	admitted := 0
	for i := 0; i < 50; i++ {
		if ok, _ := b.Acquire(); ok {
			admitted++
		}
	}
	assert.Equal(t, 10, admitted)
}

func TestWaitHint(t *testing.T) {
	b, _ := newBucket(2) // capacity 4

	for i := 0; i < 4; i++ {
		b.Acquire()
	}
	ok, wait := b.Acquire()
	assert.False(t, ok)
	// Empty bucket at 2 rps: next token in ~0.5s.
	assert.InDelta(t, 0.5, wait.Seconds(), 0.01)
}
