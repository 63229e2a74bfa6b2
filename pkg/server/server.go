package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/parley/pkg/adapter"
	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/security/auth"
	"mercator-hq/parley/pkg/telemetry/health"
	"mercator-hq/parley/pkg/telemetry/tracing"
)

// Options wires the server's collaborators.
type Options struct {
	// Negotiator is required.
	Negotiator adapter.Negotiator

	// Evidence enables the /v1/negotiations endpoints. Optional.
	Evidence evidence.Storage

	// Health serves /health and /ready. Nil uses an empty checker.
	Health *health.Checker

	// Metrics is served at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// Keys guards the /v1 endpoints when it holds at least one key.
	Keys *auth.KeySet

	// TLS switches the listener to HTTPS when set.
	TLS *tls.Config

	// Build information for /version.
	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP API server.
type Server struct {
	config       *config.ServerConfig
	negotiator   adapter.Negotiator
	evidence     evidence.Storage
	health       *health.Checker
	cursor       *adapter.CursorAdapter
	windsurf     *adapter.WindsurfAdapter
	opts         Options
	maxBodyBytes int64
	logger       *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.Mutex
	isRunning    bool
}

// New creates a server.
func New(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if opts.Negotiator == nil {
		return nil, errors.New("negotiator is required")
	}
	if opts.Health == nil {
		opts.Health = health.New(0)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}

	return &Server{
		config:       cfg,
		negotiator:   opts.Negotiator,
		evidence:     opts.Evidence,
		health:       opts.Health,
		cursor:       adapter.NewCursorAdapter(opts.Negotiator),
		windsurf:     adapter.NewWindsurfAdapter(opts.Negotiator),
		opts:         opts,
		maxBodyBytes: maxBody,
		logger:       slog.Default().With("component", "server"),
	}, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/negotiate", s.handleNegotiate)
	api.HandleFunc("POST /v1/adapters/cursor", s.handleCursor)
	api.HandleFunc("POST /v1/adapters/windsurf", s.handleWindsurf)
	if s.evidence != nil {
		api.HandleFunc("GET /v1/negotiations", s.handleListNegotiations)
		api.HandleFunc("GET /v1/negotiations/{id}", s.handleGetNegotiation)
	}

	mux := http.NewServeMux()
	if s.opts.Keys != nil && s.opts.Keys.Len() > 0 {
		mux.Handle("/v1/", AuthMiddleware(s.opts.Keys)(api))
	} else {
		mux.Handle("/v1/", api)
	}

	mux.Handle("GET /health", s.health.LivenessHandler())
	mux.Handle("GET /ready", s.health.ReadinessHandler())
	mux.Handle("GET /version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics)
	}

	var handler http.Handler = mux
	handler = DeadlineMiddleware(s.config.RequestTimeout())(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Start listens on the configured address and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.opts.TLS,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", ln.Addr().String(), "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server, waiting up to the configured
// shutdown timeout for in-flight negotiations.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.isRunning
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("API server stopped")
	})

	return shutdownErr
}
