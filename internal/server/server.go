// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "composition root": it is the one place where the
// database, the executor, the service and the handlers are wired together.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go creates:   Config, logger, sandbox.Provider (docker or local, with retries)
//	Server.New creates: sqlite.DB → Dispatcher(provider) → ExecutionService → ExecuteHandler
//
// The sandbox provider is created by main and passed in, so tests can build a
// complete server around a scripted fake sandbox.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coderscreen/coderunner/internal/auth"
	"github.com/coderscreen/coderunner/internal/executor"
	"github.com/coderscreen/coderunner/internal/handler"
	"github.com/coderscreen/coderunner/internal/middleware"
	sqliteRepo "github.com/coderscreen/coderunner/internal/repository/sqlite"
	"github.com/coderscreen/coderunner/internal/sandbox"
	"github.com/coderscreen/coderunner/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port   int
	DBPath string
	// JWTSecret enables room tokens when non-empty.
	JWTSecret string

	GlobalRPS float64
	PerIPRPS  float64
	Burst     int

	// WriteTimeout must outlast a compile plus a run in the sandbox.
	WriteTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	limiter *middleware.RateLimiter
}

// New creates a new Server with the given config. The caller keeps ownership
// of provider and closes it after Start returns.
func New(cfg Config, logger *slog.Logger, provider sandbox.Provider) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		limiter: middleware.NewRateLimiter(cfg.GlobalRPS, cfg.PerIPRPS, cfg.Burst),
	}

	if err := s.setupRoutes(provider); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                                → liveness + database check
// GET    /metrics                                → Prometheus scrape endpoint
// GET    /api/languages                          → executable languages and frameworks
// POST   /api/rooms/{roomID}/execute             → run code (rate limited)
// GET    /api/rooms/{roomID}/executions          → room history, newest first
// GET    /api/rooms/{roomID}/executions/{id}     → one execution
//
// Room routes require a room token when a JWT secret is configured.
func (s *Server) setupRoutes(provider sandbox.Provider) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	dispatcher := executor.NewDispatcher(provider, s.logger)
	executionService := service.NewExecutionService(dispatcher, s.db, s.logger)
	executeHandler := handler.NewExecuteHandler(executionService, s.logger)

	var guard func(http.Handler) http.Handler
	if s.config.JWTSecret != "" {
		tokens, err := auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
		guard = auth.RequireRoom(tokens)
	} else {
		s.logger.Warn("jwt_secret not set, room routes are open")
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/languages", handler.HandleLanguages)

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			if guard != nil {
				r.Use(guard)
			}
			r.With(s.limiter.Middleware).Post("/execute", executeHandler.HandleExecute)
			r.Get("/executions", executeHandler.HandleList)
			r.Get("/executions/{id}", executeHandler.HandleGetByID)
		})
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases what New acquired. Start calls it on the way out.
func (s *Server) Close() error {
	s.limiter.Stop()
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests (including running executions) to finish
// 3. Close the database (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	s.limiter.StartCleanup(time.Minute, 10*time.Minute)

	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

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
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// In-flight executions get as long as a request may take.
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
