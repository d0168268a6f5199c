package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

type ctxKey string

const ctxUsername ctxKey = "username"

// UserLookup answers whether a username exists and is active. Satisfied by
// the user store.
type UserLookup interface {
	IsActive(username string) (active, exists bool)
}

// ErrorWriter renders an apperr to the response. Injected by httpapi so the
// error wire format lives in exactly one place.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates the bearer token and rejects disabled accounts.
// The raw token is not kept; downstream code keys everything by username.
func Middleware(svc *Service, users UserLookup, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeErr(w, r, apperr.New(apperr.Unauthorized, "missing bearer token"))
				return
			}

			username, err := svc.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("token verification failed")
				writeErr(w, r, err)
				return
			}

			active, exists := users.IsActive(username)
			if !exists {
				writeErr(w, r, apperr.Newf(apperr.Unauthorized, "user %s does not exist", username))
				return
			}
			if !active {
				log.Warn().Str("username", username).Msg("disabled account attempted request")
				writeErr(w, r, apperr.New(apperr.Forbidden, "account is disabled"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUsername, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Username extracts the authenticated username from request context.
// Returns empty string if not authenticated (should never happen after
// Middleware).
func Username(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUsername).(string); ok {
		return v
	}
	return ""
}
