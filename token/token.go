// Package token signs and verifies HS256 JSON Web Tokens with the service
// secret, and provides bearer authentication middleware that raises typed
// 401 errors.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptySecret is returned when the manager is created without a secret.
var ErrEmptySecret = errors.New("token: secret is required")

// Claims is the payload carried by issued tokens
type Claims struct {
	Data map[string]any `json:"data,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies tokens
type Manager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option customizes a Manager
type Option func(*Manager)

// WithIssuer sets the iss claim on issued tokens and requires it on verify
func WithIssuer(iss string) Option {
	return func(m *Manager) { m.issuer = iss }
}

// NewManager creates a token manager for secret
func NewManager(secret string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	m := &Manager{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Sign issues a token for subject valid for ttl. A zero ttl issues a token
// without expiry.
func (m *Manager) Sign(subject string, data map[string]any, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Data: data,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   m.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token
func (m *Manager) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFromContext returns claims stored by the auth middleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}
