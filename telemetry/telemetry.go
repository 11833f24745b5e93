// Package telemetry configures OpenTelemetry tracing with Google Cloud Trace.
//
// Tracing is optional. With it disabled the provider still installs the W3C
// propagators so inbound trace headers are honoured by the HTTP layer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gcptrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// Config holds telemetry configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	ProjectID      string
	KeyFile        string // Service account JSON; empty uses Application Default Credentials
	EnableTracing  bool
	TraceRatio     float64

	// Export configuration
	ExportTimeout time.Duration
	BatchTimeout  time.Duration
	MaxBatchSize  int
	MaxQueueSize  int

	// Custom attributes
	Attributes map[string]string

	// exporter replaces the Cloud Trace exporter in tests
	exporter sdktrace.SpanExporter
}

// SetDefaults sets reasonable defaults for the configuration
func (c *Config) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "default-service"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.TraceRatio == 0 {
		c.TraceRatio = 0.1
	}
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if c.ExportTimeout == 0 {
		c.ExportTimeout = 30 * time.Second
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 512
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 2048
	}
}

// Validate validates telemetry configuration
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("ServiceName is required")
	}
	if c.EnableTracing && c.ProjectID == "" && c.exporter == nil {
		return errors.New("ProjectID is required when tracing is enabled")
	}
	if c.TraceRatio < 0 || c.TraceRatio > 1 {
		return errors.New("TraceRatio must be between 0.0 and 1.0")
	}
	if c.MaxBatchSize <= 0 || c.MaxQueueSize <= 0 {
		return errors.New("MaxBatchSize and MaxQueueSize must be positive")
	}
	return nil
}

// Provider manages OpenTelemetry setup
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	config         Config
}

// NewProvider configures propagation and, when enabled, a batching tracer
// provider exporting to Cloud Trace. The tracer provider is installed
// globally.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	p := &Provider{config: config}
	if config.EnableTracing {
		if err := p.setupTracing(ctx); err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context) error {
	res, err := p.createResource(ctx)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := p.config.exporter
	if exporter == nil {
		opts := []gcptrace.Option{
			gcptrace.WithProjectID(p.config.ProjectID),
			gcptrace.WithTimeout(p.config.ExportTimeout),
		}
		if p.config.KeyFile != "" {
			opts = append(opts, gcptrace.WithTraceClientOptions([]option.ClientOption{
				option.WithCredentialsFile(p.config.KeyFile),
			}))
		}
		exporter, err = gcptrace.New(opts...)
		if err != nil {
			return fmt.Errorf("failed to create Google Cloud Trace exporter: %w", err)
		}
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.TraceRatio >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.TraceRatio))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(p.config.MaxBatchSize),
			sdktrace.WithMaxQueueSize(p.config.MaxQueueSize),
		),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

// createResource merges service attributes with detected GCP attributes
func (p *Provider) createResource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(p.config.ServiceName),
		semconv.ServiceVersion(p.config.ServiceVersion),
		semconv.DeploymentEnvironment(p.config.Environment),
	}
	for k, v := range p.config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	base := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	detected, err := gcp.NewDetector().Detect(ctx)
	if err != nil {
		// not running on GCP
		return base, nil
	}
	return resource.Merge(base, detected)
}

// Shutdown flushes pending spans and stops the tracer provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		return p.tracerProvider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns a tracer with the given name
func (p *Provider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return p.TracerProvider().Tracer(name, opts...)
}

// TracerProvider returns the underlying tracer provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider != nil {
		return p.tracerProvider
	}
	return otel.GetTracerProvider()
}

// Enabled reports whether spans are exported
func (p *Provider) Enabled() bool {
	return p.tracerProvider != nil
}

// Config returns the effective configuration
func (p *Provider) Config() Config {
	return p.config
}
