package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/activity"
	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/auth"
	"github.com/dsproxy/dsproxy/internal/proxy"
	"github.com/dsproxy/dsproxy/internal/upstream"
)

// handleChat runs the admission pipeline in its fixed order: global bucket,
// quota check, permit acquire, upstream call, quota increment, stream. The
// quota is charged only after the upstream accepted the request.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	username := auth.Username(r.Context())

	if ok, wait := s.global.Acquire(); !ok {
		s.mets.RateLimitRejections.Inc()
		s.activity.Record(username, activity.ActionRateLimited, nil)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		s.writeError(w, r, apperr.New(apperr.TooManyRequests, "rate limit exceeded, slow down"))
		return
	}

	st, err := s.quota.Check(username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st.Exceeded {
		s.mets.QuotaChecks.WithLabelValues("exceeded").Inc()
		s.activity.Record(username, activity.ActionQuotaExceeded, map[string]any{
			"used": st.Used, "limit": st.Limit,
		})
		s.writeError(w, r, apperr.QuotaExhausted(st.Used, st.Limit, st.ResetAt))
		return
	}
	s.mets.QuotaChecks.WithLabelValues("ok").Inc()

	permit, err := s.permits.AcquirePermit(username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		permit.Release()
		s.writeError(w, r, apperr.New(apperr.BadRequest, "request body must be a JSON object"))
		return
	}

	body, err := upstream.PrepareBody(raw)
	if err != nil {
		permit.Release()
		s.writeError(w, r, apperr.Wrap(apperr.Internal, "encode upstream body", err))
		return
	}

	start := time.Now()
	resp, err := s.upstream.ChatStream(r.Context(), body)
	s.mets.ObserveUpstream(time.Since(start))
	if err != nil {
		permit.Release()
		s.recordUpstreamError(err)
		s.mets.ChatRequests.WithLabelValues("error").Inc()
		s.activity.Record(username, activity.ActionError, map[string]any{"stage": "upstream"})
		s.writeError(w, r, err)
		return
	}

	if err := s.quota.Increment(username); err != nil {
		resp.Body.Close()
		permit.Release()
		s.mets.ChatRequests.WithLabelValues("error").Inc()
		s.writeError(w, r, err)
		return
	}

	s.mets.ChatRequests.WithLabelValues("ok").Inc()
	s.activity.Record(username, activity.ActionChatRequest, map[string]any{
		"model":    raw["model"],
		"messages": messageCount(raw),
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	pt := proxy.NewPassthrough(resp.Body, permit, s.mets)
	if err := pt.Copy(w); err != nil {
		// Headers are already out; nothing to send, just account for it.
		log.Debug().Err(err).Str("username", username).Msg("stream ended early")
	}
}

func (s *Server) recordUpstreamError(err error) {
	switch apperr.KindOf(err) {
	case apperr.UpstreamTimeout:
		s.mets.UpstreamErrors.WithLabelValues("timeout").Inc()
	case apperr.UpstreamError:
		// A bare kind means the upstream answered with a non-2xx status;
		// a wrapped cause means the transport failed.
		var e *apperr.Error
		if errors.As(err, &e) && e.Err == nil {
			s.mets.UpstreamErrors.WithLabelValues("status").Inc()
		} else {
			s.mets.UpstreamErrors.WithLabelValues("network").Inc()
		}
	default:
		s.mets.UpstreamErrors.WithLabelValues("other").Inc()
	}
}

func messageCount(raw map[string]any) int {
	msgs, _ := raw["messages"].([]any)
	return len(msgs)
}
