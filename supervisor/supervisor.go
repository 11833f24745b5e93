// Package supervisor is the process-level fault boundary.
//
// Work started outside a request (background jobs, queue consumers, the
// listener itself) runs under a Supervisor. A returned error is logged as
// "unhandledRejection" and a panic as "uncaughtException". Under
// PolicyContinue the process keeps running; under PolicyCrash it exits with
// status 1 after logging so an external supervisor can restart it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/sirhco/go-api-bootstrap/apierror"
	"github.com/sirhco/go-api-bootstrap/logger"
)

// Policy decides what happens after a fault is logged
type Policy string

const (
	PolicyContinue Policy = "continue"
	PolicyCrash    Policy = "crash"
)

// Fault kinds as they appear in log messages
const (
	KindRejection = "unhandledRejection"
	KindException = "uncaughtException"
)

// ParsePolicy maps a configuration value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyCrash:
		return PolicyCrash, nil
	}
	return "", fmt.Errorf("unknown fault policy %q", s)
}

// Supervisor runs goroutines and handles their faults
type Supervisor struct {
	log    *logger.Logger
	policy Policy
	exit   func(code int)
	group  errgroup.Group
}

// Option customizes a Supervisor
type Option func(*Supervisor)

// WithExit replaces os.Exit for PolicyCrash
func WithExit(fn func(code int)) Option {
	return func(s *Supervisor) { s.exit = fn }
}

// New creates a supervisor. A nil logger uses the global logger.
func New(log *logger.Logger, policy Policy, opts ...Option) *Supervisor {
	if log == nil {
		log = logger.Global()
	}
	s := &Supervisor{log: log, policy: policy, exit: os.Exit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured policy
func (s *Supervisor) Policy() Policy {
	return s.policy
}

// Go runs fn in a new goroutine. Errors other than context cancellation are
// reported as rejections, panics as exceptions.
func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		defer s.Recover(ctx, name)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.Fault(ctx, KindRejection, name, err)
		}
		return nil
	})
}

// Recover handles a panic in the calling goroutine. It must be deferred
// directly.
func (s *Supervisor) Recover(ctx context.Context, name string) {
	if v := recover(); v != nil {
		s.Fault(ctx, KindException, name, apierror.FromPanic(v))
	}
}

// Fault logs err and applies the policy
func (s *Supervisor) Fault(ctx context.Context, kind, name string, err error) {
	s.log.ErrorContext(ctx, kind,
		"task", name,
		"value", err.Error(),
		"stack", apierror.StackOf(err),
	)
	if s.policy == PolicyCrash {
		s.log.CriticalContext(ctx, "terminating after fault", "task", name, "kind", kind)
		s.exit(1)
	}
}

// Wait blocks until every goroutine started with Go has returned
func (s *Supervisor) Wait() {
	_ = s.group.Wait()
}
