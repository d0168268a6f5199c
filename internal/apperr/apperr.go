// Package apperr defines the error kinds that cross component boundaries.
// Components return an *Error; the HTTP layer maps kinds to status codes
// exactly once. Wrapping with %w keeps errors.Is/As working.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for wire mapping and logging.
type Kind int

const (
	Internal Kind = iota
	Unauthorized
	Forbidden
	BadRequest
	NotFound
	QuotaExceeded
	QueueTimeout
	TooManyRequests
	UpstreamTimeout
	UpstreamError
)

// Code returns the machine-readable error code for the kind.
func (k Kind) Code() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case QuotaExceeded:
		return "quota_exceeded"
	case QueueTimeout:
		return "queue_timeout"
	case TooManyRequests:
		return "too_many_requests"
	case UpstreamTimeout:
		return "upstream_timeout"
	case UpstreamError:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// QuotaDetails rides along on QuotaExceeded errors so the 402 body can
// tell the client when the counter resets.
type QuotaDetails struct {
	Used    uint32    `json:"used"`
	Limit   uint32    `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Error is the one error type handlers inspect.
type Error struct {
	Kind    Kind
	Message string
	Quota   *QuotaDetails // set only for QuotaExceeded
	Err     error         // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// QuotaExhausted builds the 402 error with its details payload.
func QuotaExhausted(used, limit uint32, resetAt time.Time) *Error {
	return &Error{
		Kind:    QuotaExceeded,
		Message: "monthly quota exhausted, upgrade or wait for the next reset",
		Quota:   &QuotaDetails{Used: used, Limit: limit, ResetAt: resetAt},
	}
}

// KindOf extracts the kind from any error; unknown errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
