// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/gpahub/internal/api"
	"github.com/starford/gpahub/internal/mcpserver"
)

// Run starts the HTTP server, and the inbox watcher when configured, with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := NewLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Any("stores", cfg.StoreNames()),
		slog.Int("web_apis", len(cfg.WebAPIs)),
		slog.String("cache", cfg.Cache.Driver),
		slog.String("inbox_dir", cfg.Ingest.InboxDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHTTPHandler(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Ingest anything already waiting in the inbox, then watch for new gradesheets.
	if rt.Inbox != nil {
		g.Go(func() error {
			if err := rt.Inbox.Sync(gCtx); err != nil {
				logger.Warn("initial inbox sync failed", slog.String("error", err.Error()))
			}
			return rt.Inbox.Watch(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// NewHTTPHandler builds the root router: health checks, the REST API under
// /api and, when enabled, the Prometheus endpoint.
func NewHTTPHandler(rt *Runtime) http.Handler {
	cfg := rt.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for _, s := range rt.Service.Stores() {
			if !s.IngestTarget {
				continue
			}
			if err := rt.Service.TestStore(r.Context(), s.Name); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api; the SSE stream lives at /api/events.
	r.Mount("/api", api.NewRouter(rt.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.Broker, rt.Inbox))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, rt.Metrics.Handler())
	}

	return r
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	logger := NewLogger(app.logOutput, app.config.App.LogLevel)
	slog.SetDefault(logger)

	rt, err := Build(ctx, app.config, logger)
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.Service, logger).ServeStdio()
}
