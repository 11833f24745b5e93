package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")

	config := Config{}
	config.SetDefaults()

	if config.ServiceName != "default-service" {
		t.Errorf("ServiceName = %v, want default-service", config.ServiceName)
	}
	if config.Environment != "production" {
		t.Errorf("Environment = %v, want production", config.Environment)
	}
	if config.TraceRatio != 0.1 {
		t.Errorf("TraceRatio = %v, want 0.1", config.TraceRatio)
	}
	if config.ExportTimeout != 30*time.Second {
		t.Errorf("ExportTimeout = %v, want 30s", config.ExportTimeout)
	}
	if config.MaxBatchSize != 512 || config.MaxQueueSize != 2048 {
		t.Errorf("batch sizes = %d/%d, want 512/2048", config.MaxBatchSize, config.MaxQueueSize)
	}
}

func TestConfig_SetDefaultsWithEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")

	config := Config{}
	config.SetDefaults()
	if config.ProjectID != "env-project" {
		t.Errorf("ProjectID = %v, want env-project", config.ProjectID)
	}

	config = Config{ProjectID: "explicit"}
	config.SetDefaults()
	if config.ProjectID != "explicit" {
		t.Errorf("ProjectID = %v, want explicit", config.ProjectID)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "tracing disabled",
			config: Config{ServiceName: "svc", TraceRatio: 0.5, MaxBatchSize: 1, MaxQueueSize: 1},
		},
		{
			name:    "tracing without project",
			config:  Config{ServiceName: "svc", EnableTracing: true, TraceRatio: 0.5, MaxBatchSize: 1, MaxQueueSize: 1},
			wantErr: true,
		},
		{
			name:    "ratio above one",
			config:  Config{ServiceName: "svc", TraceRatio: 1.5, MaxBatchSize: 1, MaxQueueSize: 1},
			wantErr: true,
		},
		{
			name:    "negative ratio",
			config:  Config{ServiceName: "svc", TraceRatio: -0.1, MaxBatchSize: 1, MaxQueueSize: 1},
			wantErr: true,
		},
		{
			name:    "zero queue",
			config:  Config{ServiceName: "svc", TraceRatio: 0.5, MaxBatchSize: 1},
			wantErr: true,
		},
		{
			name:    "missing service name",
			config:  Config{TraceRatio: 0.5, MaxBatchSize: 1, MaxQueueSize: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewProvider_TracingDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "svc"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if p.TracerProvider() == nil {
		t.Error("TracerProvider() returned nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewProvider_ExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{
		ServiceName:   "svc",
		EnableTracing: true,
		TraceRatio:    1.0,
		Attributes:    map[string]string{"team": "platform"},
		exporter:      exporter,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if !p.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}

	_, span := p.Tracer("test").Start(context.Background(), "op")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "op" {
		t.Errorf("span name = %q, want op", spans[0].Name)
	}

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "team" && kv.Value.AsString() == "platform" {
			found = true
		}
	}
	if !found {
		t.Error("custom resource attribute missing")
	}
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordErrorContext(ctx, errors.New("boom"), "failed", attribute.String("k", "v"))
	RecordError(nil, errors.New("ignored"), "nil span")
	RecordError(span, nil, "nil error")
	AddSpanAttributesContext(ctx, attribute.Int("http.status_code", 501))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("got %d spans, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(ended[0].Events()))
	}
}

func TestStartClientSpan(t *testing.T) {
	ctx, span := StartClientSpan(context.Background(), "GET /upstream", attribute.String("http.method", "GET"))
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatal("StartClientSpan returned nil")
	}
}
