// Package token unifies bearer-token reuse and per-user concurrency control.
// One entry per username holds the live token, its deadline, and a
// single-slot permit that serializes that user's proxied requests. Expired
// entries are evicted lazily on the next touch of the map.
package token

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

type entry struct {
	token     string
	expiresAt time.Time
	permit    chan struct{} // capacity 1, a slot in the channel is the permit
}

// Manager is safe for concurrent use. The lock covers only the map; permit
// acquisition is a non-blocking channel receive.
type Manager struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time // test hook
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:     ttl,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// GetOrIssue returns the user's live token, minting a fresh one via mint
// only when no live entry exists. Reuse does not extend the deadline, so two
// logins inside the TTL return byte-identical tokens with the original
// expiry.
func (m *Manager) GetOrIssue(username string, mint func() (string, error)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	if e, ok := m.entries[username]; ok {
		log.Debug().Str("username", username).Msg("reusing cached token")
		return e.token, nil
	}

	token, err := mint()
	if err != nil {
		return "", err
	}

	e := &entry{
		token:     token,
		expiresAt: now.Add(m.ttl),
		permit:    make(chan struct{}, 1),
	}
	e.permit <- struct{}{}
	m.entries[username] = e

	log.Debug().Str("username", username).Dur("ttl", m.ttl).Msg("issued new token")
	return token, nil
}

// AcquirePermit takes the user's single in-flight slot without waiting.
// No live entry means the token expired and the client must log in again;
// a held permit means another request is mid-stream and the caller gets a
// fail-fast busy error.
func (m *Manager) AcquirePermit(username string) (*Permit, error) {
	m.mu.Lock()
	m.pruneLocked(m.now())
	e, ok := m.entries[username]
	m.mu.Unlock()

	if !ok {
		return nil, apperr.New(apperr.Unauthorized, "token expired, please login again")
	}

	select {
	case <-e.permit:
		return &Permit{slot: e.permit}, nil
	default:
		log.Warn().Str("username", username).Msg("concurrent request rejected, permit busy")
		return nil, apperr.New(apperr.TooManyRequests, "a request is already in flight for this user")
	}
}

// pruneLocked evicts every expired entry. Caller holds the lock. An expired
// entry whose permit is still held simply disappears from the map; the
// in-flight stream keeps its channel alive until release, after which both
// are garbage.
func (m *Manager) pruneLocked(now time.Time) {
	for username, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, username)
		}
	}
}
