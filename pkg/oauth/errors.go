package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrLoggedOut is returned when an operation needs a credential and none is
// cached. Callers should treat the user as unauthenticated.
var ErrLoggedOut = errors.New("user is logged out")

// ErrRefreshTokenExpired is returned when the refresh token itself is no
// longer valid. The credential has been cleared by the time it surfaces.
var ErrRefreshTokenExpired = errors.New("refresh token expired")

// UnsupportedSchemeError is returned by ParseChallenge when the
// WWW-Authenticate header does not use the Bearer scheme.
type UnsupportedSchemeError struct {
	Scheme string
	Header string
}

// Error implements the error interface.
func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported authentication scheme %q", e.Scheme)
}

// BackendError describes a failed call to the authorization server.
type BackendError struct {
	// Message is the backend provided message, or a transport description.
	Message string

	// DetailedMessage is the backend provided detail, if any.
	DetailedMessage string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("backend returned status %d: %s", e.StatusCode, msg)
	}
	if e.DetailedMessage != "" {
		msg += " (" + e.DetailedMessage + ")"
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// TransientRefreshError wraps a refresh failure other than refresh token
// expiry. The credential has been cleared by the time it surfaces.
type TransientRefreshError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientRefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

// Unwrap returns the original error for error chain inspection.
func (e *TransientRefreshError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the failed refresh call, or 0.
func (e *TransientRefreshError) StatusCode() int {
	var backendErr *BackendError
	if errors.As(e.Err, &backendErr) {
		return backendErr.StatusCode
	}
	return 0
}
