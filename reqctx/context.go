// Package reqctx provides the per-request execution context.
//
// A Namespace owns one context key. Each request opens its own immutable
// store under that key, seeded with a freshly generated trace id and the
// caller's platform tag. Anything holding the request's context.Context can
// read the store; nothing outside that call chain can.
package reqctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Store keys and defaults
const (
	KeyTraceID  = "traceId"
	KeyPlatform = "platform"

	PlatformHeader  = "X-Platform"
	TraceHeader     = "X-Trace-Id"
	DefaultPlatform = "unknown-platform"
)

// ErrEmptyNamespace is returned when a namespace is created without a name.
var ErrEmptyNamespace = errors.New("reqctx: namespace name is required")

// Namespace is a named execution-context key space.
type Namespace struct {
	name string
}

// storeKey is unique per Namespace pointer, so two namespaces with the same
// name never read each other's stores.
type storeKey struct {
	ns *Namespace
}

// Store is the immutable key-value map for one request.
type Store struct {
	values map[string]string
}

// NewNamespace creates a namespace. The name is required.
func NewNamespace(name string) (*Namespace, error) {
	if name == "" {
		return nil, ErrEmptyNamespace
	}
	return &Namespace{name: name}, nil
}

// Name returns the namespace name
func (n *Namespace) Name() string {
	return n.name
}

// Open derives a context carrying a new store seeded with values.
// The map is copied; later changes to values are not observed.
func (n *Namespace) Open(parent context.Context, values map[string]string) context.Context {
	s := &Store{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return context.WithValue(parent, storeKey{ns: n}, s)
}

// Run opens a store holding a new trace id and the platform tag, then calls
// fn with the derived context.
func (n *Namespace) Run(parent context.Context, platform string, fn func(ctx context.Context)) error {
	traceID, err := NewTraceID()
	if err != nil {
		return err
	}
	fn(n.Open(parent, map[string]string{
		KeyTraceID:  traceID,
		KeyPlatform: platform,
	}))
	return nil
}

// Active reports whether ctx carries a store from this namespace.
func (n *Namespace) Active(ctx context.Context) bool {
	return n.store(ctx) != nil
}

// Get returns the value stored under key.
func (n *Namespace) Get(ctx context.Context, key string) (string, bool) {
	s := n.store(ctx)
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// TraceID returns the request's trace id, or "" outside a request.
func (n *Namespace) TraceID(ctx context.Context) string {
	v, _ := n.Get(ctx, KeyTraceID)
	return v
}

// Platform returns the request's platform tag, or "" outside a request.
func (n *Namespace) Platform(ctx context.Context) string {
	v, _ := n.Get(ctx, KeyPlatform)
	return v
}

// Attrs returns the store contents as log attributes. It is meant to be
// installed as the logger's context-attribute hook.
func (n *Namespace) Attrs(ctx context.Context) []slog.Attr {
	s := n.store(ctx)
	if s == nil {
		return nil
	}
	attrs := make([]slog.Attr, 0, 2)
	if v, ok := s.values[KeyTraceID]; ok {
		attrs = append(attrs, slog.String(KeyTraceID, v))
	}
	if v, ok := s.values[KeyPlatform]; ok {
		attrs = append(attrs, slog.String(KeyPlatform, v))
	}
	return attrs
}

func (n *Namespace) store(ctx context.Context) *Store {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(storeKey{ns: n}).(*Store)
	return s
}

// NewTraceID generates a random (v4) UUID.
func NewTraceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate trace id: %w", err)
	}
	return id.String(), nil
}

// PlatformFromRequest returns the X-Platform header verbatim, or
// DefaultPlatform when it is absent.
func PlatformFromRequest(r *http.Request) string {
	if p := r.Header.Get(PlatformHeader); p != "" {
		return p
	}
	return DefaultPlatform
}
