package token

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirhco/go-api-bootstrap/apierror"
)

var errMissingBearer = errors.New("missing bearer token")

// Authenticate wraps an error-returning handler so it only runs with a valid
// bearer token. Failures are returned as typed 401 errors; the verified
// claims are stored in the request context.
func (m *Manager) Authenticate(next func(http.ResponseWriter, *http.Request) error) func(http.ResponseWriter, *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		raw, ok := BearerToken(r)
		if !ok {
			return apierror.Unauthorized(errMissingBearer, "Unauthorized")
		}
		claims, err := m.Verify(raw)
		if err != nil {
			return apierror.Unauthorized(err, "Unauthorized")
		}
		return next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}
