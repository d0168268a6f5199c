package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/apperr"
)

// upgradeURL rides along on 402 bodies so clients know where to buy a
// bigger tier.
const upgradeURL = "https://your-site.com/upgrade"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// quotaErrorBody is the 402 shape. It differs from the generic envelope:
// the error field is the bare code string and the counters ride in details.
type quotaErrorBody struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Details    quotaErrorDetails `json:"details"`
	UpgradeURL string            `json:"upgrade_url"`
}

type quotaErrorDetails struct {
	Used    uint32 `json:"used"`
	Limit   uint32 `json:"limit"`
	ResetAt string `json:"reset_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response failed")
	}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.QuotaExceeded:
		return http.StatusPaymentRequired
	case apperr.QueueTimeout:
		return http.StatusRequestTimeout
	case apperr.TooManyRequests:
		return http.StatusTooManyRequests
	case apperr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an error to its wire shape exactly once. Internal causes
// are logged with the request ID but never echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	var e *apperr.Error
	message := "internal server error"
	if errors.As(err, &e) && kind != apperr.Internal {
		message = e.Message
	}
	if kind == apperr.Internal {
		log.Error().
			Err(err).
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed with internal error")
	}

	if kind == apperr.QuotaExceeded && e != nil && e.Quota != nil {
		writeJSON(w, status, quotaErrorBody{
			Error:   kind.Code(),
			Message: message,
			Details: quotaErrorDetails{
				Used:    e.Quota.Used,
				Limit:   e.Quota.Limit,
				ResetAt: e.Quota.ResetAt.Format(time.RFC3339),
			},
			UpgradeURL: upgradeURL,
		})
		return
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: kind.Code(), Message: message}})
}
