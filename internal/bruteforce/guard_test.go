package bruteforce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newGuard(window time.Duration, threshold int) (*Guard, *time.Time) {
	g := New(window, threshold)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestBlocksAtThreshold(t *testing.T) {
	g, _ := newGuard(60*time.Second, 5)

	for i := 1; i <= 4; i++ {
		assert.Equal(t, i, g.RecordFailure("alice", "10.0.0.1"))
		assert.False(t, g.ShouldBlock("alice", "10.0.0.1"), "not yet blocked after %d failures", i)
	}

	assert.Equal(t, 5, g.RecordFailure("alice", "10.0.0.1"))
	assert.True(t, g.ShouldBlock("alice", "10.0.0.1"))
}

func TestWindowExpiry(t *testing.T) {
	g, now := newGuard(60*time.Second, 3)

	for i := 0; i < 3; i++ {
		g.RecordFailure("alice", "10.0.0.1")
	}
	assert.True(t, g.ShouldBlock("alice", "10.0.0.1"))

	*now = now.Add(61 * time.Second)
	assert.False(t, g.ShouldBlock("alice", "10.0.0.1"))
	// And the stale failures no longer count toward new ones.
	assert.Equal(t, 1, g.RecordFailure("alice", "10.0.0.1"))
}

func TestResetOnSuccess(t *testing.T) {
	g, _ := newGuard(60*time.Second, 3)

	for i := 0; i < 3; i++ {
		g.RecordFailure("alice", "10.0.0.1")
	}
	assert.True(t, g.ShouldBlock("alice", "10.0.0.1"))

	g.ResetOnSuccess("alice", "10.0.0.1")
	assert.False(t, g.ShouldBlock("alice", "10.0.0.1"))
}

func TestKeysAreIndependent(t *testing.T) {
	g, _ := newGuard(60*time.Second, 2)

	g.RecordFailure("alice", "10.0.0.1")
	g.RecordFailure("alice", "10.0.0.1")

	assert.True(t, g.ShouldBlock("alice", "10.0.0.1"))
	assert.False(t, g.ShouldBlock("alice", "10.0.0.2"))
	assert.False(t, g.ShouldBlock("bob", "10.0.0.1"))
}
