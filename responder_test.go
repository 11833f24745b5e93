package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirhco/go-api-bootstrap/apierror"
	"github.com/sirhco/go-api-bootstrap/logger"
	"github.com/sirhco/go-api-bootstrap/metrics"
	"github.com/sirhco/go-api-bootstrap/reqctx"
)

func newTestResponder(t *testing.T) (*Responder, *logBuffer, *metrics.Metrics) {
	t.Helper()
	logs := &logBuffer{}
	log, err := logger.NewLogger(context.Background(), logger.Config{ServiceName: "test", Writer: logs})
	require.NoError(t, err)
	m := metrics.New("")
	return NewResponder(log, nil, m), logs, m
}

func TestResponder_OutsideExecutionContext(t *testing.T) {
	rs, logs, _ := newTestResponder(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(reqctx.PlatformHeader, "web")
	rec := httptest.NewRecorder()
	rs.Respond(rec, req, apierror.BadRequest(nil, "Bad input"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	recs := logs.find(t, FailureLogMessage)
	require.Len(t, recs, 1)
	assert.Equal(t, "web", recs[0]["platform"])
	assert.Nil(t, recs[0]["value"])
	assert.Equal(t, []any{}, recs[0]["stack"])
}

func TestResponder_CountsFailureKinds(t *testing.T) {
	rs, _, m := newTestResponder(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rs.Respond(httptest.NewRecorder(), req, apierror.NotFound())
	rs.Respond(httptest.NewRecorder(), req, apierror.Unauthorized(nil, "no"))
	rs.Respond(httptest.NewRecorder(), req, errors.New("boom"))
	rs.Respond(httptest.NewRecorder(), req, nil)

	body := scrape(t, m)
	assert.Contains(t, body, `http_failures_total{kind="not_found"} 1`)
	assert.Contains(t, body, `http_failures_total{kind="typed"} 1`)
	assert.Contains(t, body, `http_failures_total{kind="untyped"} 2`)
}

func TestResponder_NilErrorIsUntyped(t *testing.T) {
	rs, _, _ := newTestResponder(t)
	rec := httptest.NewRecorder()
	rs.Respond(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, unhandledBody, rec.Body.String())
}

type panickingWriter struct {
	http.ResponseWriter
}

func (panickingWriter) Write([]byte) (int, error) { panic("writer exploded") }

func TestResponder_InternalPanicAbortsRequest(t *testing.T) {
	rs, logs, _ := newTestResponder(t)
	w := panickingWriter{ResponseWriter: httptest.NewRecorder()}

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rs.Respond(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("x"))
	})
	assert.Len(t, logs.find(t, "error responder failed"), 1)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
