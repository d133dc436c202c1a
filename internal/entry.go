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

	"github.com/starford/toolvault/internal/api"
	"github.com/starford/toolvault/internal/enrich"
	"github.com/starford/toolvault/internal/mcpserver"
	"github.com/starford/toolvault/internal/provider"
	"github.com/starford/toolvault/internal/sse"
	"github.com/starford/toolvault/internal/store"
)

// openStore builds the configured cache store backend.
func openStore(cfg *Config) (store.ToolStore, store.QuotaLedger, error) {
	opts := store.Options{
		LockTTL:     cfg.Enrich.LockTTL.Std(),
		MinuteLimit: cfg.Enrich.MinuteLimit,
		DayLimit:    cfg.Enrich.DayLimit,
	}
	switch cfg.Store.Backend {
	case StoreBackendRedis:
		s, err := store.NewRedis(cfg.Store.Redis.URL, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, s, nil
	default:
		s, err := store.OpenSQLite(cfg.Store.SQLite.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, s, nil
	}
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcp {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize the cache store.
	tools, quota, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer tools.Close()

	// AI provider.
	ai := provider.NewGemini(provider.GeminiConfig{
		APIKey:   cfg.Gemini.APIKey,
		Model:    cfg.Gemini.Model,
		Endpoint: cfg.Gemini.Endpoint,
		Timeout:  cfg.Gemini.Timeout.Std(),
	})

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	// Enrichment orchestrator.
	svc := enrich.NewService(tools, quota, ai, enrich.Config{
		StaleAfter: cfg.Enrich.StaleAfter.Std(),
		Notify:     broker.PublishToolEvent,
	})

	if app.mcp {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	// Token map for the auth middleware.
	callers := make(map[string]api.Caller, len(cfg.Auth.Callers))
	for _, c := range cfg.Auth.Callers {
		callers[c.Token] = api.Caller{ID: c.CallerID, Verified: c.Verified}
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), callers, broker)

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

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
		broker.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
