package quota

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the serializable quota state, one JSON file per user.
type Snapshot struct {
	Username       string `json:"username"`
	Tier           string `json:"tier"`
	MonthlyLimit   uint32 `json:"monthly_limit"`
	UsedCount      uint32 `json:"used_count"`
	LastSavedCount uint32 `json:"last_saved_count"`
	ResetAt        string `json:"reset_at"`
	LastSavedAt    string `json:"last_saved_at,omitempty"`
}

// state is the in-memory form. Counters are plain atomics because they are
// touched on every request; the timestamps change rarely and sit behind a
// small RWMutex.
type state struct {
	username     string
	tier         string
	monthlyLimit uint32

	used      atomic.Uint32
	lastSaved atomic.Uint32

	mu          sync.RWMutex
	resetAt     time.Time
	lastSavedAt time.Time // zero when never saved
}

func newState(snap Snapshot, resetAt, lastSavedAt time.Time) *state {
	st := &state{
		username:     snap.Username,
		tier:         snap.Tier,
		monthlyLimit: snap.MonthlyLimit,
		resetAt:      resetAt,
		lastSavedAt:  lastSavedAt,
	}
	st.used.Store(snap.UsedCount)
	st.lastSaved.Store(snap.LastSavedCount)
	return st
}

func (st *state) snapshot() Snapshot {
	st.mu.RLock()
	resetAt := st.resetAt
	lastSavedAt := st.lastSavedAt
	st.mu.RUnlock()

	snap := Snapshot{
		Username:       st.username,
		Tier:           st.tier,
		MonthlyLimit:   st.monthlyLimit,
		UsedCount:      st.used.Load(),
		LastSavedCount: st.lastSaved.Load(),
		ResetAt:        resetAt.Format(time.RFC3339),
	}
	if !lastSavedAt.IsZero() {
		snap.LastSavedAt = lastSavedAt.Format(time.RFC3339)
	}
	return snap
}

func (st *state) readResetAt() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.resetAt
}

// resetIfDue zeros both counters and installs the new deadline if resetAt
// has passed. Returns true if this caller performed the reset; the mutex
// keeps concurrent incrementers from double-resetting at a month boundary.
func (st *state) resetIfDue(now, next time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !now.After(st.resetAt) {
		return false
	}
	st.used.Store(0)
	st.lastSaved.Store(0)
	st.resetAt = next
	return true
}

func (st *state) markSaved(count uint32, at time.Time) {
	st.lastSaved.Store(count)
	st.mu.Lock()
	st.lastSavedAt = at
	st.mu.Unlock()
}
