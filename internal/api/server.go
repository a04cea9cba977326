package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/floatchat-io/floatchat/internal/api/middleware"
	"github.com/floatchat-io/floatchat/internal/llm"
)

// Deps bundles the server's collaborators. Nil optional fields degrade the
// corresponding feature: nil RateLimiter disables rate limiting, nil
// Suggestions serves fallback suggestions, nil Conversations skips context.
type Deps struct {
	Jobs          JobStore
	Datasets      DatasetStore
	Objects       Uploader
	Dispatcher    Dispatcher
	Generator     SQLGenerator
	Executor      SQLExecutor
	Conversations ConversationStore
	Chat          ChatStore
	Suggestions   SuggestionSource

	// GeneratorFor builds a generator for a per-request provider/model
	// override. Nil means overrides fall back to the default Generator.
	GeneratorFor func(provider, model string) (SQLGenerator, error)

	// BenchmarkProviders are the configured chat providers exercised by the
	// benchmark endpoint.
	BenchmarkProviders []llm.Provider

	// HealthChecks maps dependency names to reachability probes for /health.
	HealthChecks map[string]HealthCheck

	RateLimiter middleware.RateLimiter
}

// Server is the FloatChat HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	deps       Deps
	startTime  time.Time
}

// NewServer creates the HTTP server with structured logging and the
// middleware stack applied.
func NewServer(cfg *ServerConfig, deps Deps) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes top-to-bottom: correlation ID first so every later
	// stage can tag its logs, recovery before anything that can panic, rate
	// limiting before expensive handlers, logging only for admitted requests.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown. It handles graceful
// shutdown on SIGINT and SIGTERM.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting FloatChat API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server and releases limiter resources.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.deps.RateLimiter != nil {
		if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
