// Package apierror defines the client-facing error taxonomy and its JSON
// wire representation.
package apierror

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Kind is one entry in the error taxonomy.
type Kind string

const (
	BadRequest          Kind = "BadRequest"
	Unauthorized        Kind = "Unauthorized"
	Forbidden           Kind = "Forbidden"
	RouteNotFound       Kind = "RouteNotFound"
	ObjectNotFound      Kind = "ObjectNotFound"
	MethodNotAllowed    Kind = "MethodNotAllowed"
	RangeNotSatisfiable Kind = "RangeNotSatisfiable"
	RateLimited         Kind = "RateLimited"
	UpstreamError       Kind = "UpstreamError"
	Unavailable         Kind = "Unavailable"
	UpstreamTimeout     Kind = "UpstreamTimeout"
	Internal            Kind = "Internal"
)

var statusByKind = map[Kind]int{
	BadRequest:          http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	RouteNotFound:       http.StatusNotFound,
	ObjectNotFound:      http.StatusNotFound,
	MethodNotAllowed:    http.StatusMethodNotAllowed,
	RangeNotSatisfiable: http.StatusRequestedRangeNotSatisfiable,
	RateLimited:         http.StatusTooManyRequests,
	UpstreamError:       http.StatusBadGateway,
	Unavailable:         http.StatusServiceUnavailable,
	UpstreamTimeout:     http.StatusGatewayTimeout,
	Internal:            http.StatusInternalServerError,
}

// Status returns the HTTP status code a Kind maps to.
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is an apierror-taxonomy error with a human message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, preserving cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

type body struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Write emits the taxonomy's JSON error body and logs the failure. 5xx kinds
// log at Error, everything else at Warn — optional-subsystem failures
// (metrics, cache) never reach this writer, they are logged and swallowed at
// their own call sites.
func Write(w http.ResponseWriter, logger *logrus.Entry, err *Error, requestID string) {
	status := err.Kind.Status()

	entry := logger.WithFields(logrus.Fields{
		"error_kind":  err.Kind,
		"status_code": status,
		"request_id":  requestID,
	})
	if err.cause != nil {
		entry = entry.WithError(err.cause)
	}
	if status >= 500 {
		entry.Error(err.Message)
	} else {
		entry.Warn(err.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusTooManyRequests {
		// Retry-After is set by the caller before invoking Write when a
		// computed wait is available; this is just the fallback.
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "1")
		}
	}
	w.WriteHeader(status)

	resp := body{Error: string(err.Kind), Message: err.Message, RequestID: requestID}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		logger.WithError(encodeErr).Error("failed to write error response body")
	}
}
