package session

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes surfaced by the dispatcher and controller. Callers branch
// with errors.Is; the concrete *APIError carries status and remote message.
var (
	ErrNetwork      = errors.New("session: network error")
	ErrUnauthorized = errors.New("session: unauthorized")
	ErrForbidden    = errors.New("session: forbidden")
	ErrValidation   = errors.New("session: validation error")
	ErrNotFound     = errors.New("session: not found")
	ErrServer       = errors.New("session: server error")
	ErrUnknown      = errors.New("session: unknown error")

	// ErrPartialCredential guards the both-or-neither invariant: a pair
	// with only one token present is never stored.
	ErrPartialCredential = errors.New("session: partial credential")

	// ErrSessionClosed reports a renewal whose result was discarded
	// because the session was logged out while it was in flight.
	ErrSessionClosed = errors.New("session: closed during renewal")
)

// APIError is a classified remote failure.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.kind, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func apiError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message, kind: classify(status)}
}

func networkError(err error) *APIError {
	return &APIError{Message: err.Error(), kind: ErrNetwork}
}

// classify maps an HTTP status code onto the failure taxonomy.
func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return ErrUnknown
	}
}
