package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/sirhco/go-api-bootstrap/apierror"
	"github.com/sirhco/go-api-bootstrap/reqctx"
)

// MaxLoggedBody bounds how much of a request body the access log reads
const MaxLoggedBody = 64 << 10

// Chain composes middleware; the first one added is the outermost
type Chain struct {
	middlewares []func(http.Handler) http.Handler
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...func(http.Handler) http.Handler) *Chain {
	return &Chain{middlewares: middlewares}
}

// Append adds middleware to the end of the chain
func (c *Chain) Append(middlewares ...func(http.Handler) http.Handler) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Then applies the chain to a handler
func (c *Chain) Then(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// chain is the server's request pipeline, outermost first
func (s *Server) chain(origins []*regexp.Regexp) *Chain {
	c := NewChain()
	if s.telemetry.Enabled() {
		c.Append(OTelHTTP(s.config.ServiceName))
	}
	return c.Append(
		s.contextInitializer,
		s.accessLog,
		s.metrics.Middleware,
		s.recovery,
		SecurityHeaders(),
		CORS(origins),
	)
}

// trackerKey holds the request's outermost response writer
type trackerKey struct{}

// contextInitializer opens the request's execution context. Everything
// downstream, including the error responder, runs inside it.
func (s *Server) contextInitializer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		err := s.ns.Run(r.Context(), reqctx.PlatformFromRequest(r), func(ctx context.Context) {
			ww.Header().Set(reqctx.TraceHeader, s.ns.TraceID(ctx))
			ctx = context.WithValue(ctx, trackerKey{}, ww)
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
		if err != nil {
			s.responder.Respond(ww, r, err)
		}
	})
}

// accessLog writes one record per request before routing
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := originalURL(r)
		args := []any{"method", r.Method, "url", target}
		body, truncated := readBody(r)
		if body != nil {
			args = append(args, "body", body)
		}
		if truncated {
			args = append(args, "body_truncated", true)
		}
		s.logger.InfoContext(r.Context(), r.Method+" "+target, args...)
		next.ServeHTTP(w, r)
	})
}

// recovery turns a panic into an untyped failure for the responder
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.responder.Respond(w, r, apierror.FromPanic(v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the standard hardening headers
func SecurityHeaders() func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		CustomBrowserXssValue: "0",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'",
	}).Handler
}

// CORS allows cross-origin requests from origins matching any pattern.
// Requests from other origins get no CORS headers.
func CORS(origins []*regexp.Regexp) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			for _, re := range origins {
				if re.MatchString(origin) {
					return true
				}
			}
			return false
		},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", reqctx.PlatformHeader, reqctx.TraceHeader},
		ExposedHeaders:   []string{reqctx.TraceHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}).Handler
}

// compileOrigins anchors each configured origin at the end of the string
func compileOrigins(origins []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(origins))
	for _, o := range origins {
		re, err := regexp.Compile(o + "$")
		if err != nil {
			return nil, fmt.Errorf("CORS_WHITELIST_ORIGINS: invalid pattern %q: %w", o, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// OTelHTTP wraps a handler with OpenTelemetry HTTP instrumentation
func OTelHTTP(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

func originalURL(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// replayBody serves the bytes already read followed by the rest of the
// original body.
type replayBody struct {
	io.Reader
	io.Closer
}

// readBody parses JSON and form bodies for logging and restores r.Body.
// Other content types and unparsable bodies are not logged.
func readBody(r *http.Request) (any, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded") {
		return nil, false
	}

	orig := r.Body
	buf, err := io.ReadAll(io.LimitReader(orig, MaxLoggedBody+1))
	r.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(buf), orig), Closer: orig}
	if len(buf) > MaxLoggedBody {
		return nil, true
	}
	if err != nil || len(buf) == 0 {
		return nil, false
	}

	if mediaType == "application/json" {
		var v any
		if json.Unmarshal(buf, &v) != nil {
			return nil, false
		}
		return v, false
	}

	values, err := url.ParseQuery(string(buf))
	if err != nil {
		return nil, false
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			fields[k] = v[0]
		} else {
			fields[k] = v
		}
	}
	return fields, false
}
