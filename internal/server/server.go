// Package server is the composition root: it builds the logger, metrics,
// audit store, registry, identity provider, dispatcher and gateway from
// configuration and runs the HTTP server around them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/config"
	"github.com/cliniguard/cliniguard/internal/dispatch"
	"github.com/cliniguard/cliniguard/internal/gateway"
	"github.com/cliniguard/cliniguard/internal/health"
	"github.com/cliniguard/cliniguard/internal/identity"
	"github.com/cliniguard/cliniguard/internal/registry"
	"github.com/cliniguard/cliniguard/internal/tools"
)

// Server assembles all cliniguard components around one HTTP listener.
type Server struct {
	cfg      *config.Config
	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener // if non-nil, Start uses this instead of creating one

	store    audit.Store
	registry *registry.Registry
	provider identity.Provider
	limiter  *gateway.ActorRateLimiter
	gateway  *gateway.Gateway
	health   *health.Handler
	metrics  *audit.Metrics
	logger   *slog.Logger
	version  string
}

// New creates a Server from configuration. The audit store is opened here;
// a backend that cannot be reached is a startup failure, not a degraded mode.
func New(cfg *config.Config, version string) (*Server, error) {
	logger := buildLogger(cfg)

	metrics := audit.NewMetrics()
	metrics.SetBuildInfo(version, runtime.Version())

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}

	recorder := audit.NewRecorder(store, audit.RecorderOptions{
		Logger:   logger,
		Sampling: samplingFromConfig(cfg.Audit),
		Metrics:  metrics,
		Backend:  cfg.Audit.Backend,
	})

	reg := registry.New()
	if err := tools.Register(reg, store); err != nil {
		store.Close()
		return nil, err
	}
	metrics.SetRegisteredTools(reg.Len())

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	dispatcher := dispatch.New(reg, recorder, logger, dispatch.Options{Observer: metrics})
	limiter := gateway.NewActorRateLimiter(cfg.RateLimit)

	gw := gateway.New(reg, dispatcher, provider, logger, gateway.Options{
		Limiter:     limiter,
		Metrics:     metrics,
		MaxBodySize: int64(cfg.Listen.MaxBodySize),
	})

	return &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		provider: provider,
		limiter:  limiter,
		gateway:  gw,
		health:   health.NewHandler(store, reg, version, cfg.Health.ReadinessMode),
		metrics:  metrics,
		logger:   logger,
		version:  version,
	}, nil
}

// Logger returns the server's root logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Registry returns the tool registry, so integrations can register their
// descriptors before Start.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Metrics returns the metrics collector.
func (s *Server) Metrics() *audit.Metrics { return s.metrics }

// Reloadables returns the components that accept config hot reloads.
func (s *Server) Reloadables() []config.Reloadable {
	subs := []config.Reloadable{s.limiter}
	if sp, ok := s.provider.(*identity.StaticProvider); ok {
		subs = append(subs, sp)
	}
	return subs
}

// Start begins listening and serving. It blocks until the context is canceled
// or an unrecoverable error occurs, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	handler := s.handler()
	listenAddr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port)

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listenAddr, err)
		}
		if s.cfg.Listen.MaxConnections > 0 {
			ln = newLimitedListener(ln, s.cfg.Listen.MaxConnections)
		}
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening",
			"addr", listenAddr,
			"tools", s.registry.Len(),
			"audit_backend", s.cfg.Audit.Backend,
			"identity_mode", s.cfg.Identity.Mode,
		)
		if s.cfg.Listen.TLS.CertFile != "" {
			errCh <- srv.ServeTLS(ln, s.cfg.Listen.TLS.CertFile, s.cfg.Listen.TLS.KeyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.Timeout.Duration)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Shutdown drains in-flight requests, stops the rate limiter and closes the
// audit store. In-flight dispatches complete and are audited before the store
// goes away: the drain happens while the store is still open.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, drainCancel := context.WithTimeout(ctx, s.cfg.Shutdown.DrainTimeout.Duration)
	defer drainCancel()

	s.mu.Lock()
	hs := s.httpSrv
	s.mu.Unlock()

	if hs != nil {
		if err := hs.Shutdown(drainCtx); err != nil {
			s.logger.Warn("drain timeout, some requests may be interrupted", "error", err)
		}
	}

	s.limiter.Stop()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing audit store: %w", err)
	}
	return nil
}

// handler builds the full HTTP handler. Health and metrics endpoints bypass
// the middleware pipeline; the gateway endpoints run behind request metadata
// capture and HTTP instrumentation.
func (s *Server) handler() http.Handler {
	gwMux := http.NewServeMux()
	s.gateway.Routes(gwMux)

	var piped http.Handler = gwMux
	piped = gateway.Instrument(s.metrics)(piped)
	piped = gateway.RequestMeta(s.cfg.Listen.TrustedProxies)(piped)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Health.LivenessPath, s.health.Liveness)
	mux.HandleFunc(s.cfg.Health.ReadinessPath, s.health.Readiness)
	mux.HandleFunc("/metrics", s.metrics.Handler())
	mux.Handle("/v1/", piped)

	return mux
}

// openStore selects the audit backend from configuration.
func openStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		return audit.OpenSQLite(cfg.Audit.SQLite.Path)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return audit.OpenRedis(ctx, cfg.Audit.Redis.Addr, cfg.Audit.Redis.Password, cfg.Audit.Redis.DB, cfg.Audit.Redis.Stream)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
}

// buildProvider selects the identity provider from configuration.
func buildProvider(cfg *config.Config, logger *slog.Logger) (identity.Provider, error) {
	switch cfg.Identity.Mode {
	case "static":
		return identity.NewStaticProvider(cfg.Identity.Static, logger)
	case "jwt":
		return identity.NewJWTProvider(cfg.Identity.JWT, logger), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}
}

// samplingFromConfig maps the audit echo settings onto sampling rates.
// Failures and denials always log.
func samplingFromConfig(cfg config.AuditConfig) audit.SamplingConfig {
	successRate := 0.0
	if cfg.LogSuccesses {
		successRate = cfg.SuccessSamplingRate
	}
	return audit.SamplingConfig{
		SuccessRate: successRate,
		FailureRate: 1.0,
		MaxDetail:   cfg.MaxDetailLogSize,
	}
}

// buildLogger creates an slog.Logger based on configuration.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	switch cfg.Logging.Output {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// ── LimitedListener ──

// limitedListener wraps a net.Listener to limit maximum concurrent connections.
type limitedListener struct {
	net.Listener
	sem chan struct{}
}

func newLimitedListener(l net.Listener, maxConns int) net.Listener {
	return &limitedListener{
		Listener: l,
		sem:      make(chan struct{}, maxConns),
	}
}

// Accept waits for and returns the next connection, blocking if at limit.
func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	c, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: c, sem: l.sem}, nil
}

// limitedConn wraps a net.Conn to release the semaphore slot on close.
type limitedConn struct {
	net.Conn
	sem    chan struct{}
	closed sync.Once
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closed.Do(func() { <-c.sem })
	return err
}
