package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyBruteForceDelivers(t *testing.T) {
	got := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		got <- ev
	}))
	defer srv.Close()

	New(srv.URL).NotifyBruteForce("alice", "10.0.0.1", 5)

	select {
	case ev := <-got:
		assert.Equal(t, "login_bruteforce_blocked", ev.Event)
		assert.Equal(t, "alice", ev.Username)
		assert.Equal(t, 5, ev.Count)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestEmptyURLIsNoop(t *testing.T) {
	// Must not panic or block.
	New("").NotifyBruteForce("alice", "10.0.0.1", 5)
}
