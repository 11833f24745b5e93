package token

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirhco/go-api-bootstrap/apierror"
)

func TestNewManager(t *testing.T) {
	_, err := NewManager("")
	assert.ErrorIs(t, err, ErrEmptySecret)

	m, err := NewManager("s3cret")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestSignVerify(t *testing.T) {
	m, err := NewManager("s3cret", WithIssuer("api"))
	require.NoError(t, err)

	raw, err := m.Sign("user-1", map[string]any{"role": "admin"}, time.Hour)
	require.NoError(t, err)

	claims, err := m.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "api", claims.Issuer)
	assert.Equal(t, "admin", claims.Data["role"])
}

func TestVerify_Rejects(t *testing.T) {
	m, err := NewManager("s3cret")
	require.NoError(t, err)
	other, err := NewManager("different")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		raw, err := other.Sign("u", nil, time.Hour)
		require.NoError(t, err)
		_, err = m.Verify(raw)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past, err := NewManager("s3cret")
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		raw, err := past.Sign("u", nil, time.Hour)
		require.NoError(t, err)
		_, err = m.Verify(raw)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		strict, err := NewManager("s3cret", WithIssuer("api"))
		require.NoError(t, err)
		raw, err := m.Sign("u", nil, time.Hour)
		require.NoError(t, err)
		_, err = strict.Verify(raw)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not-a-token")
		assert.Error(t, err)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"Bearer   ", "", false},
		{"Bearer abc.def", "abc.def", true},
		{"bearer xyz", "xyz", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	m, err := NewManager("s3cret")
	require.NoError(t, err)

	var seen *Claims
	h := m.Authenticate(func(w http.ResponseWriter, r *http.Request) error {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
		return nil
	})

	t.Run("missing token", func(t *testing.T) {
		err := h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		var typed *apierror.Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, http.StatusUnauthorized, typed.Code)
		assert.Equal(t, "Unauthorized", typed.Message)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		err := h(httptest.NewRecorder(), req)
		assert.Equal(t, apierror.KindTyped, apierror.Classify(err).Kind)
	})

	t.Run("valid token", func(t *testing.T) {
		raw, err := m.Sign("user-9", nil, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()

		require.NoError(t, h(rec, req))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "user-9", seen.Subject)
	})
}
