// Package apierror defines the typed application error returned by route
// handlers and the classification used by the error responder.
//
// An *Error carries a client-safe message and an HTTP status. Anything else
// that reaches the responder is untyped and is never shown to the client.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundMessage is the client message for unmatched routes.
const NotFoundMessage = "Resource Not Found!"

// ErrRouteNotFound is the cause carried by NotFound.
var ErrRouteNotFound = errors.New("route not found")

// Error is a typed application error.
//
// Fields:
//   - Message: client-safe human message
//   - Cause:   optional underlying error, logged but never sent to the client
//   - Code:    HTTP status; zero leaves the status at the default
type Error struct {
	Message string
	Cause   error
	Code    int
}

// New creates a typed error. cause may be nil.
func New(cause error, message string, code int) *Error {
	return &Error{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// HasCode reports whether the error sets an explicit, valid HTTP status.
func (e *Error) HasCode() bool {
	return e.Code >= 100 && e.Code <= 999
}

// NotFound is raised for requests that matched no route.
func NotFound() *Error {
	return New(ErrRouteNotFound, NotFoundMessage, http.StatusNotFound)
}

// BadRequest wraps a validation failure.
func BadRequest(cause error, message string) *Error {
	return New(cause, message, http.StatusBadRequest)
}

// ValidationFailed wraps cause with the standard validation message.
func ValidationFailed(cause error) *Error {
	return BadRequest(cause, "Validation Failed")
}

// Unauthorized is raised by authentication middleware.
func Unauthorized(cause error, message string) *Error {
	return New(cause, message, http.StatusUnauthorized)
}

// Forbidden is raised when an authenticated caller lacks access.
func Forbidden(cause error, message string) *Error {
	return New(cause, message, http.StatusForbidden)
}

// Unavailable is raised by readiness checks.
func Unavailable(cause error, message string) *Error {
	return New(cause, message, http.StatusServiceUnavailable)
}
