// Package server sets up the HTTP server, router, and all route definitions.
//
// It is the composition root for the HTTP surface:
//
//	Registry (from cmd) + sqlite.DB → ExecutionService → handlers → routes
//
// Every dependency is wired here, in New and setupRoutes, rather than scattered
// across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/codetrace/internal/handler"
	"github.com/sakif/codetrace/internal/middleware"
	"github.com/sakif/codetrace/internal/repository"
	sqliteRepo "github.com/sakif/codetrace/internal/repository/sqlite"
	"github.com/sakif/codetrace/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port            int
	DBPath          string // empty disables the execution journal
	MaxSourceBytes  int
	RateLimit       middleware.RateLimitConfig
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the journal database and closes it on shutdown so pending
// writes are flushed and the file lock is released.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqliteRepo.DB // nil when the journal is disabled
	service *service.ExecutionService
	limiter *middleware.RateLimiter
}

// New creates a Server that dispatches through registry.
//
// IMPORT ALIAS: repository/sqlite is imported as sqliteRepo so it is not
// confused with the sqlite driver package.
func New(cfg Config, logger *slog.Logger, registry *service.Registry) (*Server, error) {
	var journal repository.ExecutionRepository
	var db *sqliteRepo.DB
	if cfg.DBPath != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		var err error
		db, err = sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		journal = db
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		service: service.NewExecutionService(registry, journal, cfg.MaxSourceBytes, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/execute           → Run and trace code (JSON)      [rate limited]
// GET    /api/execute/ws        → Run and stream trace events    [rate limited]
// GET    /api/languages         → Registered languages
// GET    /api/executions        → Journal of past runs
// GET    /api/executions/{id}   → One journal entry
// GET    /metrics               → Prometheus
// GET    /healthz               → Liveness
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns the id the logger and journal record
// 2. RequestIDHeader: returns that id to the client
// 3. RealIP: the rate limiter keys on the client address
// 4. Logger
// 5. Recoverer: a panic becomes a 500 instead of a crash
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(middleware.RequestIDHeader)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	executeHandler := handler.NewExecuteHandler(s.service, s.logger)
	streamHandler := handler.NewStreamHandler(s.service, s.logger)
	executionsHandler := handler.NewExecutionsHandler(s.service, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Post("/execute", executeHandler.HandleExecute)
			r.Get("/execute/ws", streamHandler.HandleStream)
		})
		r.Get("/languages", executionsHandler.Languages)
		r.Get("/executions", executionsHandler.List)
		r.Get("/executions/{id}", executionsHandler.Get)
	})

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
}

// Close releases the journal database.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
// 1. Stop accepting new connections
// 2. Wait for in-flight requests (ShutdownTimeout)
// 3. Close the database
func (s *Server) Start() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	// WriteTimeout is left at zero: websocket streams outlive any fixed bound,
	// and each execution carries its own timeout.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
