// Package bootstrap provides the HTTP server foundation for API services.
//
// A Server owns the router, the per-request execution context, structured
// logging, tracing, metrics and process supervision. Route handlers return
// errors instead of writing failure responses themselves; the server turns
// every error into a JSON response and a log record.
//
// # Quick Start
//
//	cfg, err := config.Load(config.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := bootstrap.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close(context.Background())
//
//	srv.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) error {
//	    u, err := users.Find(r.Context(), chi.URLParam(r, "id"))
//	    if err != nil {
//	        return apierror.Unavailable(err, "User store unavailable")
//	    }
//	    return helpers.WriteJSON(w, http.StatusOK, u)
//	})
//
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Run returns after SIGINT or SIGTERM, or when ctx is done, once in-flight
// requests have drained.
//
// # Request Pipeline
//
// Every request passes through, outermost first:
//
//   - OTelHTTP: server span, when TRACING_ENABLE is set
//   - execution context: trace id, platform tag, X-Trace-Id response header
//   - access log: method, URL and the decoded body
//   - metrics: request count, latency and in-flight gauge
//   - recovery: panics become errors for the responder
//   - security headers and CORS
//   - the router
//
// # Errors
//
// An *apierror.Error with a status code renders as
// {"status": false, "errorType": ..., "message": ...} with that code. Any
// other error, and any panic, renders as a fixed 501 body. Unknown routes
// render as 404. Each failure is logged once with its stack and platform.
//
// # Execution Context
//
// The request's trace id and platform are available anywhere downstream
// through the server's Namespace and are attached to every log record
// written with a context-aware logger method:
//
//	traceID := srv.Namespace().TraceID(ctx)
//	srv.Logger().InfoContext(ctx, "user loaded", "id", id)
//
// Outbound calls made with helpers.TraceHTTPClient forward the trace id and
// platform headers.
//
// # Background Work
//
// Work started with Supervisor().Go is logged as unhandledRejection when it
// returns an error and as uncaughtException when it panics. Under the crash
// fault policy the process exits after the record is written.
//
// # Package Structure
//
//   - bootstrap: server, pipeline and error responder (this package)
//   - apierror: typed API errors and classification
//   - config: dotenv and environment configuration
//   - reqctx: per-request execution context
//   - logger: structured logging with console, file, CloudWatch and Cloud Logging sinks
//   - telemetry: OpenTelemetry and tracing utilities
//   - metrics: Prometheus collectors
//   - supervisor: background task fault handling
//   - token: JWT signing and verification
//   - health: liveness and readiness checks
//   - helpers: JSON and outbound HTTP utilities
package bootstrap
