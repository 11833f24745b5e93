// Package health implements the liveness and readiness probe handlers.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirhco/go-api-bootstrap/apierror"
	"github.com/sirhco/go-api-bootstrap/helpers"
)

// DefaultTimeout bounds one readiness evaluation
const DefaultTimeout = 5 * time.Second

// Checker is one readiness dependency
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc adapts fn into a named Checker
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return checkFunc{name: name, fn: fn}
}

// Response is the probe body
type Response struct {
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Liveness reports that the process is serving requests
func Liveness(w http.ResponseWriter, r *http.Request) error {
	return helpers.WriteJSON(w, http.StatusOK, Response{Status: true, Message: "OK"})
}

// Readiness runs every checker concurrently
type Readiness struct {
	checks  []Checker
	timeout time.Duration
}

// NewReadiness creates a readiness probe. A non-positive timeout uses
// DefaultTimeout.
func NewReadiness(timeout time.Duration, checks ...Checker) *Readiness {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Readiness{checks: checks, timeout: timeout}
}

// Add registers more checkers
func (h *Readiness) Add(checks ...Checker) {
	h.checks = append(h.checks, checks...)
}

// Handle writes 200 when every check passes. Otherwise it returns a typed
// 503 error for the error responder.
func (h *Readiness) Handle(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range h.checks {
		g.Go(func() error {
			if err := c.Check(gctx); err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return apierror.Unavailable(err, "Service Unavailable")
	}

	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		checks[c.Name()] = "ok"
	}
	return helpers.WriteJSON(w, http.StatusOK, Response{Status: true, Message: "OK", Checks: checks})
}
