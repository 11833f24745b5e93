package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sirhco/go-api-bootstrap/config"
)

// logBuffer is a goroutine-safe log sink that decodes JSON lines
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

// find returns every record whose msg equals msg
func (b *logBuffer) find(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, rec := range b.records(t) {
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

// index returns the position of the first record with msg, or -1
func (b *logBuffer) index(t *testing.T, msg string) int {
	t.Helper()
	for i, rec := range b.records(t) {
		if rec["msg"] == msg {
			return i
		}
	}
	return -1
}

func testConfig(mutate ...func(*config.Config)) *config.Config {
	cfg := &config.Config{ContextNamespace: "test-ns"}
	cfg.SetDefaults()
	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *logBuffer) {
	t.Helper()
	logs := &logBuffer{}
	s, err := New(context.Background(), cfg, append([]Option{WithLogWriter(logs)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, logs
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
	raw    string
}

func do(t *testing.T, h http.Handler, req *http.Request) response {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := response{code: rec.Code, header: rec.Header(), raw: rec.Body.String()}
	if bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body))
	}
	return res
}
