package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by this module
const TracerName = "github.com/sirhco/go-api-bootstrap"

// StartClientSpan starts a client span from the global tracer provider
func StartClientSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span failed and records err on it
func RecordError(span trace.Span, err error, description string, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.SetStatus(codes.Error, description)
	all := append([]attribute.KeyValue{
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}, attrs...)
	span.RecordError(err, trace.WithAttributes(all...))
}

// RecordErrorContext records err on the span carried by ctx
func RecordErrorContext(ctx context.Context, err error, description string, attrs ...attribute.KeyValue) {
	RecordError(trace.SpanFromContext(ctx), err, description, attrs...)
}

// AddSpanAttributesContext adds attributes to the span carried by ctx
func AddSpanAttributesContext(ctx context.Context, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		trace.SpanFromContext(ctx).SetAttributes(attrs...)
	}
}
