package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/activity"
	"github.com/dsproxy/dsproxy/internal/apperr"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleLogin runs the login pipeline: global limit, brute-force block,
// credential check, token issue. Failed attempts feed the brute-force
// guard; a success clears it.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.global.Acquire(); !ok {
		s.mets.RateLimitRejections.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		s.writeError(w, r, apperr.New(apperr.TooManyRequests, "rate limit exceeded, slow down"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "request body must be JSON with username and password"))
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "username and password are required"))
		return
	}

	ip := clientIP(r)

	if s.guard.ShouldBlock(req.Username, ip) {
		s.mets.LoginAttempts.WithLabelValues("blocked").Inc()
		log.Warn().Str("username", req.Username).Str("ip", ip).Msg("login blocked by brute force guard")
		s.writeError(w, r, apperr.New(apperr.TooManyRequests, "too many failed login attempts, try again later"))
		return
	}

	rec, ok := s.users.Find(req.Username, req.Password)
	if !ok {
		s.loginFailed(w, r, req.Username, ip)
		return
	}
	if !rec.IsActive {
		// Correct credentials on a disabled account do not feed the guard.
		s.mets.LoginAttempts.WithLabelValues("failure").Inc()
		s.activity.Record(req.Username, activity.ActionAccountDisabled, map[string]any{"ip": ip})
		s.writeError(w, r, apperr.New(apperr.Forbidden, "account is disabled"))
		return
	}

	s.guard.ResetOnSuccess(req.Username, ip)

	tok, err := s.permits.GetOrIssue(req.Username, func() (string, error) {
		return s.tokens.Mint(req.Username)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.mets.LoginAttempts.WithLabelValues("success").Inc()
	s.activity.Record(req.Username, activity.ActionLogin, map[string]any{"ip": ip})
	log.Info().Str("username", req.Username).Str("ip", ip).Msg("login succeeded")

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok,
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
	})
}

// loginFailed records the failure and, when the threshold is crossed,
// emits the blocked counter and the webhook event.
func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, username, ip string) {
	count := s.guard.RecordFailure(username, ip)
	s.mets.LoginAttempts.WithLabelValues("failure").Inc()
	log.Warn().Str("username", username).Str("ip", ip).Int("failures", count).Msg("login failed")

	if count >= s.guard.Threshold() {
		s.mets.LoginBruteforceBlocked.Inc()
		s.notifier.NotifyBruteForce(username, ip, count)
	}

	s.writeError(w, r, apperr.New(apperr.Unauthorized, "invalid username or password"))
}

// retryAfterSeconds rounds a wait hint up to whole seconds, minimum 1.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
