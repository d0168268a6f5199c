// Package httpapi assembles the HTTP surface: the login and chat pipelines,
// the loopback-only admin and metrics routes, and the single place where
// error kinds become status codes.
package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/activity"
	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/auth"
	"github.com/dsproxy/dsproxy/internal/bruteforce"
	"github.com/dsproxy/dsproxy/internal/metrics"
	"github.com/dsproxy/dsproxy/internal/quota"
	"github.com/dsproxy/dsproxy/internal/ratelimit"
	"github.com/dsproxy/dsproxy/internal/token"
	"github.com/dsproxy/dsproxy/internal/upstream"
	"github.com/dsproxy/dsproxy/internal/userstore"
	"github.com/dsproxy/dsproxy/internal/webhook"
)

// Deps carries everything the handlers need. All fields are required
// except Notifier and Activity, which degrade to no-ops.
type Deps struct {
	Users    *userstore.Store
	Guard    *bruteforce.Guard
	Tokens   *auth.Service
	Permits  *token.Manager
	Quota    *quota.Engine
	Global   *ratelimit.Bucket
	Upstream *upstream.Client
	Metrics  *metrics.Metrics
	Notifier *webhook.Notifier
	Activity *activity.Logger
}

type Server struct {
	users    *userstore.Store
	guard    *bruteforce.Guard
	tokens   *auth.Service
	permits  *token.Manager
	quota    *quota.Engine
	global   *ratelimit.Bucket
	upstream *upstream.Client
	mets     *metrics.Metrics
	notifier *webhook.Notifier
	activity *activity.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		users:    d.Users,
		guard:    d.Guard,
		tokens:   d.Tokens,
		permits:  d.Permits,
		quota:    d.Quota,
		global:   d.Global,
		upstream: d.Upstream,
		mets:     d.Metrics,
		notifier: d.Notifier,
		activity: d.Activity,
	}
}

// Router wires the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// RealIP stays off the admin group: the loopback check below trusts
	// RemoteAddr, and a forwarding header must not be able to rewrite it.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Post("/auth/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.tokens, s.users, s.writeError))
		r.Post("/chat/completions", s.handleChat)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.loopbackOnly)
		r.Route("/admin/users", func(r chi.Router) {
			r.Get("/", s.handleAdminListUsers)
			r.Post("/", s.handleAdminCreateUser)
			r.Get("/{username}", s.handleAdminGetUser)
			r.Post("/{username}/active", s.handleAdminSetActive)
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.mets.Registry, promhttp.HandlerOpts{}))
	})

	return r
}

// requestLogger emits one zerolog line per request once the response is
// written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("request completed")
	})
}

// loopbackOnly rejects admin and metrics calls from non-loopback peers
// before the handler runs. RemoteAddr is authoritative here; forwarding
// headers are deliberately ignored so a proxy cannot spoof locality.
func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			log.Warn().Str("remoteAddr", r.RemoteAddr).Str("path", r.URL.Path).Msg("admin route rejected for non-loopback peer")
			s.writeError(w, r, apperr.New(apperr.Forbidden, "admin interface is restricted to localhost"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the RealIP-rewritten RemoteAddr, stripping the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
