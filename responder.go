package bootstrap

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sirhco/go-api-bootstrap/apierror"
	"github.com/sirhco/go-api-bootstrap/helpers"
	"github.com/sirhco/go-api-bootstrap/logger"
	"github.com/sirhco/go-api-bootstrap/metrics"
	"github.com/sirhco/go-api-bootstrap/reqctx"
	"github.com/sirhco/go-api-bootstrap/telemetry"
)

// Responder messages and the untyped error marker
const (
	FailureLogMessage  = "Failed to execute the operation"
	UnhandledMessage   = "Something went wrong!"
	UnhandledErrorType = "unhandled"
)

// ErrorBody is the JSON envelope sent for every failure
type ErrorBody struct {
	Status    bool   `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Message   string `json:"message"`
}

// Responder renders failures as HTTP responses. It is the last stage of
// every request that fails.
type Responder struct {
	log     *logger.Logger
	ns      *reqctx.Namespace
	metrics *metrics.Metrics
}

// NewResponder creates a responder. metrics may be nil.
func NewResponder(log *logger.Logger, ns *reqctx.Namespace, m *metrics.Metrics) *Responder {
	return &Responder{log: log, ns: ns, metrics: m}
}

// Respond logs err once and writes its envelope. Typed errors keep their
// message and status; anything else becomes a 501 with a generic message.
// When the handler already started the response only the log is written.
func (rs *Responder) Respond(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	defer func() {
		if v := recover(); v != nil {
			rs.log.CriticalContext(ctx, "error responder failed", "value", fmt.Sprint(v))
			panic(http.ErrAbortHandler)
		}
	}()

	var (
		status int
		body   = ErrorBody{Status: false}
		value  error
		kind   string
	)
	failure := apierror.Classify(err)
	switch failure.Kind {
	case apierror.KindTyped:
		value = failure.Typed.Cause
		if failure.Typed.HasCode() {
			status = failure.Typed.Code
		}
		body.Message = failure.Typed.Message
		kind = metrics.FailureTyped
		if errors.Is(failure.Typed, apierror.ErrRouteNotFound) {
			kind = metrics.FailureNotFound
		}
	default:
		value = failure.Untyped
		status = http.StatusNotImplemented
		body.ErrorType = UnhandledErrorType
		body.Message = UnhandledMessage
		kind = metrics.FailureUntyped
	}

	started := responseStarted(r, w)
	args := []any{"value", value, "stack", apierror.StackOf(value)}
	if rs.ns == nil || rs.ns.Platform(ctx) == "" {
		args = append(args, reqctx.KeyPlatform, reqctx.PlatformFromRequest(r))
	}
	if started {
		args = append(args, "response_started", true)
	}
	rs.log.ErrorContext(ctx, FailureLogMessage, args...)

	if rs.metrics != nil {
		rs.metrics.ObserveFailure(kind)
	}
	if value != nil {
		telemetry.RecordErrorContext(ctx, value, FailureLogMessage, attribute.String("failure.kind", kind))
	}

	if started {
		return
	}
	if werr := helpers.WriteJSON(w, status, body); werr != nil {
		rs.log.WarnContext(ctx, "failed to write error response", "error", werr)
	}
}

// responseStarted reports whether headers were already sent. The tracker
// installed by the context initializer is authoritative; otherwise w's
// Unwrap chain is searched.
func responseStarted(r *http.Request, w http.ResponseWriter) bool {
	if ww, ok := r.Context().Value(trackerKey{}).(middleware.WrapResponseWriter); ok {
		return ww.Status() != 0
	}
	for w != nil {
		if ww, ok := w.(middleware.WrapResponseWriter); ok {
			return ww.Status() != 0
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
	return false
}
