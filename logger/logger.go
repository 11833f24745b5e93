package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/chainguard-dev/clog/gcp"
	"go.opentelemetry.io/otel/trace"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Level represents logging levels
type Level slog.Level

// Log levels
const (
	LevelDebug    = Level(slog.LevelDebug)
	LevelInfo     = Level(slog.LevelInfo)
	LevelWarn     = Level(slog.LevelWarn)
	LevelError    = Level(slog.LevelError)
	LevelCritical = Level(gcp.LevelCritical)
)

// ParseLevel maps a level name to a Level. Unknown names yield LevelInfo
// and an error.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "", "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	case "critical", "CRITICAL":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Backend selects where records are shipped besides the console.
type Backend string

// Backends
const (
	BackendConsole Backend = "console"
	BackendGCP     Backend = "gcp"
	BackendAWS     Backend = "aws"
	BackendFile    Backend = "file"
)

// ContextAttrsFunc extracts request-scoped attributes from a context.
type ContextAttrsFunc func(ctx context.Context) []slog.Attr

// Config holds logger configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Backend        Backend
	Level          Level

	DisableConsole bool      // Suppress the stdout handler
	Pretty         bool      // Text instead of JSON on the console
	Writer         io.Writer // Console destination (defaults to os.Stdout)

	GCP  GCPConfig
	AWS  AWSConfig
	File FileConfig

	// ContextAttrs is consulted on every *Context call. The server installs
	// the execution-context namespace here so each record carries traceId
	// and platform.
	ContextAttrs ContextAttrsFunc
}

// GCPConfig configures the Cloud Logging backend
type GCPConfig struct {
	Enable    bool
	ProjectID string
	LogName   string // Added as the log_name field for filtering
}

// SetDefaults sets reasonable defaults for the config
func (c *Config) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "default-service"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "1.0.0"
	}
	if c.Backend == "" {
		c.Backend = BackendConsole
	}
	if c.Level == 0 {
		c.Level = LevelInfo
	}
	if c.Writer == nil {
		c.Writer = os.Stdout
	}
	if c.GCP.LogName == "" {
		c.GCP.LogName = c.ServiceName
	}
	c.AWS.setDefaults()
	c.File.setDefaults(c.ServiceName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendConsole:
	case BackendGCP:
		if c.GCP.Enable && c.GCP.ProjectID == "" {
			return errors.New("GCP.ProjectID is required when GCP logging is enabled")
		}
	case BackendAWS:
		if c.AWS.Enable {
			if err := c.AWS.validate(); err != nil {
				return err
			}
		}
	case BackendFile:
		if c.File.Filename == "" {
			return errors.New("File.Filename is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown log backend %q", c.Backend)
	}
	return nil
}

// Logger wraps slog with backend selection and request correlation
type Logger struct {
	logger  *slog.Logger
	config  Config
	closers []io.Closer
	mu      sync.RWMutex
}

// NewLogger creates a new logger instance with the provided config
func NewLogger(ctx context.Context, config Config) (*Logger, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	handler, closers, err := createHandler(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Logger{
		logger: slog.New(handler).With(
			"service", config.ServiceName,
			"version", config.ServiceVersion,
		),
		config:  config,
		closers: closers,
	}, nil
}

// createHandler builds the console handler plus the selected backend
func createHandler(ctx context.Context, config Config) (slog.Handler, []io.Closer, error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	opts := &slog.HandlerOptions{Level: slog.Level(config.Level)}

	if !config.DisableConsole {
		if config.Pretty {
			handlers = append(handlers, slog.NewTextHandler(config.Writer, opts))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(config.Writer, opts))
		}
	}

	switch config.Backend {
	case BackendGCP:
		// clog/gcp formats for Cloud Logging on stderr
		if config.GCP.Enable {
			handlers = append(handlers, gcp.NewHandler(slog.Level(config.Level)).
				WithAttrs([]slog.Attr{slog.String("log_name", config.GCP.LogName)}))
		}
	case BackendAWS:
		if config.AWS.Enable {
			w, err := newCloudWatchWriter(ctx, config.AWS)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create cloudwatch writer: %w", err)
			}
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
			closers = append(closers, w)
		}
	case BackendFile:
		w := newFileWriter(config.File)
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
		closers = append(closers, w)
	}

	switch len(handlers) {
	case 0:
		return slog.NewTextHandler(io.Discard, nil), closers, nil
	case 1:
		return handlers[0], closers, nil
	default:
		return &multiHandler{handlers: handlers}, closers, nil
	}
}

// multiHandler writes to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle fans out to every handler. A failing backend does not stop the
// others; the joined error is returned to slog, which drops it.
func (m *multiHandler) Handle(ctx context.Context, rec slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, rec.Level) {
			if err := h.Handle(ctx, rec.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}

// InitGlobal initializes the global logger and makes it the slog default
func InitGlobal(ctx context.Context, config Config) error {
	l, err := NewLogger(ctx, config)
	if err != nil {
		return err
	}
	SetGlobal(l)
	return nil
}

// SetGlobal replaces the global logger
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
	if l != nil {
		slog.SetDefault(l.logger)
	}
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return Discard()
	}
	return globalLogger
}

// Discard returns a logger that drops every record
func Discard() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// contextArgs appends request-scoped and span attributes to args
func (l *Logger) contextArgs(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if l.config.ContextAttrs != nil {
		for _, a := range l.config.ContextAttrs(ctx) {
			args = append(args, a)
		}
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return args
	}
	sc := span.SpanContext()
	args = append(args,
		"span_trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
	return args
}

// enrichContext adds the Cloud Trace reference for clog/gcp
func (l *Logger) enrichContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() || l.config.GCP.ProjectID == "" {
		return ctx
	}
	return gcp.WithTrace(ctx, fmt.Sprintf("projects/%s/traces/%s", l.config.GCP.ProjectID, sc.TraceID().String()))
}

func (l *Logger) log(ctx context.Context, level Level, msg string, args ...any) {
	args = l.contextArgs(ctx, args)
	ctx = l.enrichContext(ctx)
	l.handle().Log(ctx, slog.Level(level), msg, args...)
}

func (l *Logger) handle() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, args ...any) {
	l.handle().Debug(msg, args...)
}

// Info logs at info level
func (l *Logger) Info(msg string, args ...any) {
	l.handle().Info(msg, args...)
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, args ...any) {
	l.handle().Warn(msg, args...)
}

// Error logs at error level
func (l *Logger) Error(msg string, args ...any) {
	l.handle().Error(msg, args...)
}

// Critical logs at critical level (GCP-specific)
func (l *Logger) Critical(msg string, args ...any) {
	l.handle().Log(context.Background(), slog.Level(LevelCritical), msg, args...)
}

// DebugContext logs at debug level with request correlation
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// InfoContext logs at info level with request correlation
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args...)
}

// WarnContext logs at warn level with request correlation
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args...)
}

// ErrorContext logs at error level with request correlation
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, args...)
}

// CriticalContext logs at critical level with request correlation
func (l *Logger) CriticalContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelCritical, msg, args...)
}

// LogError logs err with its type at error level
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...any) {
	if err == nil {
		l.ErrorContext(ctx, msg, args...)
		return
	}
	errorArgs := append([]any{
		"error", err.Error(),
		"error.type", fmt.Sprintf("%T", err),
	}, args...)
	l.ErrorContext(ctx, msg, errorArgs...)
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Logger{
		logger: l.logger.With(args...),
		config: l.config,
	}
}

// SetLevel rebuilds the console and backend handlers at the new level.
// Backend writers opened by the previous handlers are closed.
func (l *Logger) SetLevel(ctx context.Context, level Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	config := l.config
	config.Level = level
	handler, closers, err := createHandler(ctx, config)
	if err != nil {
		return err
	}
	old := l.closers
	l.config = config
	l.closers = closers
	l.logger = slog.New(handler).With("service", config.ServiceName, "version", config.ServiceVersion)
	return closeAll(old)
}

// Config returns the effective configuration
func (l *Logger) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Slog exposes the underlying slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.handle()
}

// Close flushes and closes backend writers
func (l *Logger) Close() error {
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()
	return closeAll(closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes the global logger
func Shutdown(ctx context.Context) error {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l.Close()
	}
	return nil
}

// Global function shortcuts using the global logger
func Debug(msg string, args ...any)    { Global().Debug(msg, args...) }
func Info(msg string, args ...any)     { Global().Info(msg, args...) }
func Warn(msg string, args ...any)     { Global().Warn(msg, args...) }
func Error(msg string, args ...any)    { Global().Error(msg, args...) }
func Critical(msg string, args ...any) { Global().Critical(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	Global().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Global().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Global().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Global().ErrorContext(ctx, msg, args...)
}

func CriticalContext(ctx context.Context, msg string, args ...any) {
	Global().CriticalContext(ctx, msg, args...)
}
