package bootstrap

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sirhco/go-api-bootstrap/apierror"
)

// HandlerFunc is a route handler that reports failure by returning it.
// A returned error, typed or not, is rendered by the error responder.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts h to net/http
func (s *Server) Handle(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.responder.Respond(w, r, err)
		}
	}
}

// Method registers h for method and pattern
func (s *Server) Method(method, pattern string, h HandlerFunc) {
	s.router.Method(method, pattern, s.Handle(h))
}

func (s *Server) Get(pattern string, h HandlerFunc)    { s.Method(http.MethodGet, pattern, h) }
func (s *Server) Post(pattern string, h HandlerFunc)   { s.Method(http.MethodPost, pattern, h) }
func (s *Server) Put(pattern string, h HandlerFunc)    { s.Method(http.MethodPut, pattern, h) }
func (s *Server) Patch(pattern string, h HandlerFunc)  { s.Method(http.MethodPatch, pattern, h) }
func (s *Server) Delete(pattern string, h HandlerFunc) { s.Method(http.MethodDelete, pattern, h) }

// Route mounts a sub-router at pattern. Use Handle to register
// error-returning handlers on it.
func (s *Server) Route(pattern string, fn func(r chi.Router)) chi.Router {
	return s.router.Route(pattern, fn)
}

// Authenticate requires a valid bearer token before h runs. Without a
// configured JWT secret every request fails as unhandled.
func (s *Server) Authenticate(h HandlerFunc) HandlerFunc {
	tokens, err := s.Tokens()
	if err != nil {
		return func(http.ResponseWriter, *http.Request) error {
			return apierror.WithStack(err)
		}
	}
	return tokens.Authenticate(h)
}

func notFound(http.ResponseWriter, *http.Request) error {
	return apierror.NotFound()
}
