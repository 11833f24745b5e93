package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sirhco/go-api-bootstrap/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncBuffer guards a buffer written from supervised goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func newLogger(t *testing.T) (*logger.Logger, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	log, err := logger.NewLogger(context.Background(), logger.Config{ServiceName: "svc", Writer: buf})
	require.NoError(t, err)
	return log, buf
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyContinue, p)

	p, err = ParsePolicy("crash")
	require.NoError(t, err)
	assert.Equal(t, PolicyCrash, p)

	_, err = ParsePolicy("restart")
	assert.Error(t, err)
}

func TestGo_ReturnedErrorIsRejection(t *testing.T) {
	log, buf := newLogger(t)
	s := New(log, PolicyContinue, WithExit(func(int) { t.Fatal("exit called under continue") }))

	s.Go(context.Background(), "consumer", func(context.Context) error {
		return errors.New("queue closed")
	})
	s.Wait()

	recs := buf.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, KindRejection, recs[0]["msg"])
	assert.Equal(t, "consumer", recs[0]["task"])
	assert.Equal(t, "queue closed", recs[0]["value"])
	assert.Equal(t, []any{}, recs[0]["stack"])
}

func TestGo_PanicIsException(t *testing.T) {
	log, buf := newLogger(t)
	s := New(log, PolicyContinue)

	s.Go(context.Background(), "job", func(context.Context) error {
		panic("boom")
	})
	s.Wait()

	recs := buf.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, KindException, recs[0]["msg"])
	assert.Equal(t, "panic: boom", recs[0]["value"])
	assert.NotEmpty(t, recs[0]["stack"])
}

func TestGo_CancellationIsNotAFault(t *testing.T) {
	log, buf := newLogger(t)
	s := New(log, PolicyContinue)

	ctx, cancel := context.WithCancel(context.Background())
	s.Go(ctx, "loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	s.Wait()

	assert.Empty(t, buf.records(t))
}

func TestGo_CrashPolicyExits(t *testing.T) {
	log, buf := newLogger(t)

	var (
		mu    sync.Mutex
		codes []int
	)
	s := New(log, PolicyCrash, WithExit(func(code int) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	}))

	s.Go(context.Background(), "job", func(context.Context) error {
		return errors.New("fatal")
	})
	s.Wait()

	assert.Equal(t, []int{1}, codes)
	recs := buf.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, KindRejection, recs[0]["msg"])
	assert.Equal(t, "terminating after fault", recs[1]["msg"])
}

func TestRecover_InCallingGoroutine(t *testing.T) {
	log, buf := newLogger(t)
	s := New(log, PolicyContinue)

	func() {
		defer s.Recover(context.Background(), "main")
		panic(errors.New("bad state"))
	}()

	recs := buf.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, KindException, recs[0]["msg"])
	assert.Equal(t, "bad state", recs[0]["value"])
}
