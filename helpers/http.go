// Package helpers holds small HTTP utilities shared by the server and by
// application code.
package helpers

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sirhco/go-api-bootstrap/logger"
	"github.com/sirhco/go-api-bootstrap/reqctx"
	"github.com/sirhco/go-api-bootstrap/telemetry"
)

// ExtractTraceContext returns r's context with any inbound W3C trace context
func ExtractTraceContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// InjectTraceContext writes the W3C trace context from ctx into req's headers
func InjectTraceContext(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// TraceHTTPClient returns a copy of client whose requests carry the caller's
// trace id and platform tag from ns, plus W3C trace headers. A nil log
// disables request logging.
func TraceHTTPClient(client *http.Client, ns *reqctx.Namespace, log *logger.Logger) *http.Client {
	var c http.Client
	if client != nil {
		c = *client
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &tracingTransport{base: base, ns: ns, log: log}
	return &c
}

type tracingTransport struct {
	base http.RoundTripper
	ns   *reqctx.Namespace
	log  *logger.Logger
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := telemetry.StartClientSpan(req.Context(), req.Method+" "+req.URL.Host,
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request
	req = req.Clone(ctx)
	if t.ns != nil {
		if id := t.ns.TraceID(ctx); id != "" {
			req.Header.Set(reqctx.TraceHeader, id)
		}
		if p := t.ns.Platform(ctx); p != "" {
			req.Header.Set(reqctx.PlatformHeader, p)
		}
	}
	InjectTraceContext(ctx, req)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		telemetry.RecordError(span, err, "HTTP client request failed")
		if t.log != nil {
			t.log.ErrorContext(ctx, "HTTP client request failed",
				"method", req.Method,
				"url", req.URL.String(),
				"error", err,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if t.log != nil {
		t.log.InfoContext(ctx, "HTTP client response received",
			"method", req.Method,
			"url", req.URL.String(),
			"status_code", resp.StatusCode,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return resp, nil
}
