package relay

import (
	"errors"

	"github.com/arinzecomie/livechat-relay/internal/protocol"
)

var (
	// Admission failures; always wrapped in *AdmissionError.
	ErrUnauthorized            = errors.New("unauthorized")
	ErrSiteSuspended           = errors.New("site suspended")
	ErrConnectionLimitExceeded = errors.New("connection limit exceeded")
	ErrSiteUnavailable         = errors.New("site directory unavailable")

	// Per-event failures; the connection stays open.
	ErrForbidden         = errors.New("forbidden")
	ErrPersistenceFailed = errors.New("message could not be persisted")
	ErrHistoryFailed     = errors.New("history could not be loaded")
	ErrSessionClosed     = errors.New("session closed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotJoined         = errors.New("not joined to a session")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrRateLimited       = errors.New("rate limited")
	ErrInternal          = errors.New("internal error")
)

// AdmissionError is returned by Gateway.Admit. Reason is one of the admission
// sentinels; Err carries the underlying cause, if any.
type AdmissionError struct {
	Reason error
	Err    error
}

func (e *AdmissionError) Error() string {
	if e.Err == nil {
		return "admission rejected: " + e.Reason.Error()
	}
	return "admission rejected: " + e.Reason.Error() + ": " + e.Err.Error()
}

func (e *AdmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func reject(reason, cause error) error {
	return &AdmissionError{Reason: reason, Err: cause}
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return protocol.CodeUnauthorized
	case errors.Is(err, ErrSiteSuspended):
		return protocol.CodeSiteSuspended
	case errors.Is(err, ErrConnectionLimitExceeded):
		return protocol.CodeConnectionLimitExceeded
	case errors.Is(err, ErrSiteUnavailable), errors.Is(err, ErrHistoryFailed):
		return protocol.CodeUnavailable
	case errors.Is(err, ErrForbidden):
		return protocol.CodeForbidden
	case errors.Is(err, ErrPersistenceFailed):
		return protocol.CodePersistenceFailed
	case errors.Is(err, ErrSessionClosed):
		return protocol.CodeSessionClosed
	case errors.Is(err, ErrNotJoined):
		return protocol.CodeSessionRequired
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrSessionNotFound):
		return protocol.CodeInvalidMessage
	case errors.Is(err, ErrRateLimited):
		return protocol.CodeRateLimited
	}
	return protocol.CodeInternalError
}

// IsAdmissionError reports whether err rejected a connection outright.
func IsAdmissionError(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}
