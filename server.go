package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sirhco/go-api-bootstrap/config"
	"github.com/sirhco/go-api-bootstrap/health"
	"github.com/sirhco/go-api-bootstrap/logger"
	"github.com/sirhco/go-api-bootstrap/metrics"
	"github.com/sirhco/go-api-bootstrap/reqctx"
	"github.com/sirhco/go-api-bootstrap/supervisor"
	"github.com/sirhco/go-api-bootstrap/telemetry"
	"github.com/sirhco/go-api-bootstrap/token"
)

// Routes served by every Server
const (
	LivenessPath  = "/health-check-api"
	ReadinessPath = "/health-check-db"
	MetricsPath   = "/metrics"
)

// Server owns the router, the ordered middleware chain and the listener.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	ns        *reqctx.Namespace
	telemetry *telemetry.Provider
	metrics   *metrics.Metrics
	tokens    *token.Manager
	readiness *health.Readiness
	responder *Responder
	faults    *supervisor.Supervisor

	router     chi.Router
	handler    http.Handler
	httpServer *http.Server

	listener net.Listener
	signals  []os.Signal
	onListen func(net.Addr)

	closeOnce sync.Once
}

// Option customizes a Server
type Option func(*serverOptions)

type serverOptions struct {
	logWriter io.Writer
	checks    []health.Checker
	listener  net.Listener
	signals   []os.Signal
	onListen  func(net.Addr)
	exit      func(int)
}

// WithLogWriter sends console log output to w instead of stdout
func WithLogWriter(w io.Writer) Option {
	return func(o *serverOptions) { o.logWriter = w }
}

// WithReadinessChecks registers checkers run by the readiness probe
func WithReadinessChecks(checks ...health.Checker) Option {
	return func(o *serverOptions) { o.checks = append(o.checks, checks...) }
}

// WithListener serves on ln instead of listening on API_PORT
func WithListener(ln net.Listener) Option {
	return func(o *serverOptions) { o.listener = ln }
}

// WithSignals replaces the signals that trigger a graceful drain
func WithSignals(sig ...os.Signal) Option {
	return func(o *serverOptions) { o.signals = sig }
}

// WithOnListen is called once the listener is bound and signal handling is
// installed.
func WithOnListen(fn func(addr net.Addr)) Option {
	return func(o *serverOptions) { o.onListen = fn }
}

// WithExit replaces os.Exit for the crash fault policy
func WithExit(fn func(code int)) Option {
	return func(o *serverOptions) { o.exit = fn }
}

// New builds a server from cfg. It fails when the execution-context
// namespace is not configured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	o := serverOptions{signals: []os.Signal{syscall.SIGTERM, os.Interrupt}}
	for _, opt := range opts {
		opt(&o)
	}

	ns, err := reqctx.NewNamespace(cfg.ContextNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize execution context: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config:   cfg,
		ns:       ns,
		metrics:  metrics.New(""),
		listener: o.listener,
		signals:  o.signals,
		onListen: o.onListen,
	}

	if cfg.JWTSecretKey != "" {
		if s.tokens, err = token.NewManager(cfg.JWTSecretKey); err != nil {
			return nil, fmt.Errorf("failed to initialize tokens: %w", err)
		}
	}

	policy, err := supervisor.ParsePolicy(cfg.FaultPolicy)
	if err != nil {
		return nil, err
	}

	origins, err := compileOrigins(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(ctx, loggerConfig(cfg, ns, o.logWriter))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	s.logger = log
	logger.SetGlobal(log)

	s.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		ProjectID:      cfg.GCP.ProjectName,
		KeyFile:        cfg.GCP.KeyFile,
		EnableTracing:  cfg.TracingEnable,
		TraceRatio:     cfg.TraceRatio,
	})
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var supOpts []supervisor.Option
	if o.exit != nil {
		supOpts = append(supOpts, supervisor.WithExit(o.exit))
	}
	s.faults = supervisor.New(log, policy, supOpts...)

	s.responder = NewResponder(log, ns, s.metrics)
	s.readiness = health.NewReadiness(0, o.checks...)

	s.router = chi.NewRouter()
	s.router.Use(middleware.GetHead)
	s.router.Get(LivenessPath, s.Handle(health.Liveness))
	s.router.Get(ReadinessPath, s.Handle(s.readiness.Handle))
	s.router.Method(http.MethodGet, MetricsPath, s.metrics.Handler())
	s.router.NotFound(s.Handle(notFound))
	s.router.MethodNotAllowed(s.Handle(notFound))

	s.handler = s.chain(origins).Then(s.router)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Slog().Handler(), slog.LevelError),
	}

	log.InfoContext(ctx, "server initialized",
		"environment", cfg.Env,
		"log_type", cfg.LogType,
		"namespace", ns.Name(),
		"tracing_enabled", s.telemetry.Enabled(),
		"fault_policy", string(policy),
	)
	return s, nil
}

func loggerConfig(cfg *config.Config, ns *reqctx.Namespace, w io.Writer) logger.Config {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.LevelInfo
	}
	return logger.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		Backend:        logger.Backend(cfg.LogType),
		Level:          level,
		DisableConsole: cfg.ConsoleDisable,
		Pretty:         cfg.LogPretty,
		Writer:         w,
		GCP: logger.GCPConfig{
			Enable:    cfg.GCP.Enable,
			ProjectID: cfg.GCP.ProjectName,
			LogName:   cfg.GCP.LogStreamName,
		},
		AWS: logger.AWSConfig{
			Enable:        cfg.AWSCloudWatch.Enable,
			Region:        cfg.AWSCloudWatch.Region,
			AccessKeyID:   cfg.AWSCloudWatch.AccessKeyID,
			SecretKey:     cfg.AWSCloudWatch.SecretKey,
			LogGroupName:  cfg.AWSCloudWatch.LogGroupName,
			LogStreamName: cfg.AWSCloudWatch.LogStreamName,
		},
		File:         logger.FileConfig{Filename: cfg.LogFile},
		ContextAttrs: ns.Attrs,
	}
}

// Router returns the chi router for registering plain http.Handlers
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the complete middleware chain wrapping the router
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Logger returns the server logger
func (s *Server) Logger() *logger.Logger {
	return s.logger
}

// Namespace returns the execution-context namespace
func (s *Server) Namespace() *reqctx.Namespace {
	return s.ns
}

// Metrics returns the server metrics
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Telemetry returns the telemetry provider
func (s *Server) Telemetry() *telemetry.Provider {
	return s.telemetry
}

// Supervisor returns the process-level fault boundary
func (s *Server) Supervisor() *supervisor.Supervisor {
	return s.faults
}

// Readiness returns the readiness probe so checks can be added later
func (s *Server) Readiness() *health.Readiness {
	return s.readiness
}

// Tokens returns the JWT manager. It fails when JWT_SECRET_KEY is unset.
func (s *Server) Tokens() (*token.Manager, error) {
	if s.tokens == nil {
		return nil, token.ErrEmptySecret
	}
	return s.tokens, nil
}

// Config returns the server configuration
func (s *Server) Config() *config.Config {
	return s.config
}

// Run serves until a drain signal arrives or ctx is done, then shuts the
// HTTP server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.httpServer.Addr); err != nil {
			return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	if len(s.signals) > 0 {
		signal.Notify(sigCh, s.signals...)
		defer signal.Stop(sigCh)
	}

	s.logger.InfoContext(ctx, "server listening", "port", s.config.APIPort, "addr", ln.Addr().String())
	if s.onListen != nil {
		s.onListen(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			s.logger.InfoContext(ctx, signalName(sig)+" signal received: closing HTTP server")
		case <-gctx.Done():
			s.logger.InfoContext(ctx, "shutdown requested: closing HTTP server")
		}
		return s.Shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests.
// With SHUTDOWN_TIMEOUT unset it waits as long as they take.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.LogError(ctx, err, "HTTP server shutdown failed")
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.InfoContext(ctx, "HTTP server closed")
	return nil
}

// Close waits for supervised tasks, bounded by ctx, then flushes telemetry
// and log backends. It is safe to call more than once.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if werr := s.waitTasks(ctx); werr != nil {
			s.logger.LogError(ctx, werr, "supervised tasks still running at close")
			err = werr
		}
		if terr := s.telemetry.Shutdown(ctx); terr != nil {
			s.logger.LogError(ctx, terr, "Failed to shutdown telemetry")
			err = fmt.Errorf("failed to shutdown telemetry: %w", terr)
		}
		if lerr := s.logger.Close(); lerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close logger: %w", lerr))
		}
	})
	return err
}

func (s *Server) waitTasks(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.faults.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for supervised tasks: %w", ctx.Err())
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case os.Interrupt:
		return "SIGINT"
	}
	return sig.String()
}
