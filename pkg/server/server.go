package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fakeyw/gemini-proxy/pkg/adapter"
	"github.com/fakeyw/gemini-proxy/pkg/config"
	"github.com/fakeyw/gemini-proxy/pkg/keypool"
	"github.com/fakeyw/gemini-proxy/pkg/proxy"
	"github.com/fakeyw/gemini-proxy/pkg/proxy/middleware"
	certs "github.com/fakeyw/gemini-proxy/pkg/security/tls"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/health"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/logging"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/metrics"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/tracing"
)

// Options carries the components a Server is assembled from. Pool is
// required; the rest default to disabled or no-op implementations.
type Options struct {
	Pool       *keypool.Pool
	Metrics    *metrics.Collector
	Tracer     *tracing.Tracer
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Server serves the proxy endpoint alongside health, usage and metrics
// endpoints, and runs the daily key pool reset.
type Server struct {
	config *config.Config

	pool         *keypool.Pool
	orchestrator *proxy.Orchestrator
	scheduler    *keypool.ResetScheduler
	health       *health.Checker
	metrics      *metrics.Collector
	tracer       *tracing.Tracer
	logger       *slog.Logger

	// secret holds the current shared secret.
	secret atomic.Value

	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New assembles a Server from cfg.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if opts.Pool == nil {
		return nil, errors.New("key pool is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newUpstreamClient(cfg.Upstreams)
	}

	s := &Server{
		config:  cfg,
		pool:    opts.Pool,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.With("component", "server"),
		health:  health.New(5 * time.Second),
	}
	s.secret.Store(cfg.Proxy.APIKey)

	s.orchestrator = proxy.NewOrchestrator(opts.Pool, opts.HTTPClient,
		proxy.WithMaxAttempts(cfg.KeyPool.MaxAttempts),
		proxy.WithRetryDelay(cfg.KeyPool.RetryDelay),
		proxy.WithBookkeepingTimeout(cfg.KeyPool.BookkeepingTimeout),
		proxy.WithOrchestratorLogger(opts.Logger),
		proxy.WithMetrics(opts.Metrics),
		proxy.WithTracer(opts.Tracer),
	)

	loc, err := time.LoadLocation(cfg.KeyPool.ResetTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reset timezone: %w", err)
	}
	s.scheduler, err = keypool.NewResetScheduler(opts.Pool, cfg.KeyPool.ResetSchedule, loc,
		keypool.WithSchedulerLogger(opts.Logger),
		keypool.WithResetHook(opts.Metrics.RecordReset),
	)
	if err != nil {
		return nil, err
	}

	s.health.RegisterCheck("keypool", func(ctx context.Context) (string, error) {
		n, err := s.pool.Size(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d keys", n), nil
	})

	return s, nil
}

// newUpstreamClient returns the client used for upstream calls. Only the
// wait for response headers is bounded, so long streams are not cut off.
func newUpstreamClient(cfg config.UpstreamsConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = max(cfg.OpenAI.Timeout, cfg.Gemini.Timeout)

	return &http.Client{
		Transport: transport,
		// Redirects are relayed to the caller rather than followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SetSharedSecret replaces the shared secret used to select pooled mode.
func (s *Server) SetSharedSecret(secret string) {
	s.secret.Store(secret)
}

func (s *Server) sharedSecret() string {
	return s.secret.Load().(string)
}

// Start listens on the configured address, starts the reset scheduler and
// serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Proxy.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Proxy.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.Proxy.ReadTimeout,
		WriteTimeout:   s.config.Proxy.WriteTimeout,
		IdleTimeout:    s.config.Proxy.IdleTimeout,
		MaxHeaderBytes: s.config.Proxy.MaxHeaderBytes,
	}
	s.isRunning = true
	s.mu.Unlock()

	tlsEnabled := s.config.Proxy.TLS.Enabled
	if tlsEnabled {
		if err := s.configureTLS(ctx); err != nil {
			ln.Close()
			s.markStopped()
			return err
		}
	}

	if err := s.scheduler.Start(ctx); err != nil {
		ln.Close()
		s.markStopped()
		return fmt.Errorf("failed to start reset scheduler: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting proxy server",
			"address", ln.Addr().String(),
			"pooled_mode", s.sharedSecret() != "",
			"tls_enabled", tlsEnabled,
			"reset_schedule", s.scheduler.Schedule(),
		)

		var err error
		if tlsEnabled {
			// Certificates come from TLSConfig.GetCertificate.
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
}

// configureTLS loads the server certificate and keeps it reloaded until ctx
// is cancelled.
func (s *Server) configureTLS(ctx context.Context) error {
	cfg := s.config.Proxy.TLS
	reloader := certs.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, s.logger)
	if err := reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	tlsConfig, err := certs.ServerConfig(cfg, reloader)
	if err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	s.httpServer.TLSConfig = tlsConfig
	return nil
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests, waits for in-flight requests and
// background key pool updates, then flushes traces.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.Proxy.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Proxy.ShutdownTimeout)
		defer cancel()

		s.scheduler.Stop()

		var errs []error
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if err := s.orchestrator.Drain(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := s.tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		shutdownErr = errors.Join(errs...)
		if shutdownErr != nil {
			s.logger.Error("error during server shutdown", "error", shutdownErr)
		}
		s.logger.Info("proxy server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", s.health.LivenessHandler())
	mux.Handle("/ready", s.health.ReadinessHandler())
	mux.HandleFunc("/model_usage", s.handleModelUsage)
	if s.metrics != nil && s.config.Telemetry.Metrics.Enabled {
		mux.Handle(s.config.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	registry := adapter.DefaultRegistry(s.config.Upstreams, s.logger)
	mux.Handle("/", proxy.NewHandler(registry, s.orchestrator, s.sharedSecret, s.config.Proxy.MaxBodyBytes, s.logger))

	var handler http.Handler = mux
	handler = tracing.HTTPMiddleware(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// handleModelUsage serves per-key usage and exhaustion. Keys are masked.
func (s *Server) handleModelUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		proxy.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := s.pool.Stats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to read key pool stats", "error", err)
		proxy.WriteError(w, http.StatusInternalServerError, proxy.CodeKeyPoolError, "failed to read key pool stats")
		return
	}

	for i := range stats {
		stats[i].Key = logging.MaskKey(stats[i].Key)
	}
	proxy.WriteJSONResponse(w, http.StatusOK, stats)
}
