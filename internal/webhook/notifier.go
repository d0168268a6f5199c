// Package webhook posts security events to an operator-configured URL.
// Delivery is best effort: failures are logged and never surface to the
// request path.
package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/timeutil"
)

// Event is the JSON body posted to the webhook URL.
type Event struct {
	ID       string `json:"id"`
	Event    string `json:"event"`
	Username string `json:"username"`
	IP       string `json:"ip,omitempty"`
	Count    int    `json:"count,omitempty"`
	At       string `json:"at"`
}

// Notifier is inert when constructed with an empty URL.
type Notifier struct {
	url    string
	client *http.Client
}

func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// NotifyBruteForce fires a login_bruteforce_blocked event in the background.
func (n *Notifier) NotifyBruteForce(username, ip string, count int) {
	n.send(Event{
		ID:       uuid.New().String(),
		Event:    "login_bruteforce_blocked",
		Username: username,
		IP:       ip,
		Count:    count,
		At:       timeutil.NowRFC3339(),
	})
}

func (n *Notifier) send(ev Event) {
	if n == nil || n.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event", ev.Event).Msg("webhook marshal failed")
			return
		}
		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Str("event", ev.Event).Msg("webhook delivery failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Str("event", ev.Event).Msg("webhook endpoint returned non-2xx")
		}
	}()
}
