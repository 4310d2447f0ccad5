// Storefront BFF - serves the cart and checkout engine to the browser front end
// and to agents over MCP, backed by a headless commerce backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storefront-cart/internal/adapter"
	"storefront-cart/internal/commerce"
	"storefront-cart/internal/config"
	"storefront-cart/internal/engine"
	"storefront-cart/internal/handler"
	"storefront-cart/internal/middleware"
	"storefront-cart/internal/storage"
)

// sweepInterval is how often idle session engines are closed.
const sweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("backend_url", cfg.Backend.URL),
		slog.String("region_id", cfg.RegionID),
		slog.Bool("chrome_tls", cfg.Backend.ChromeTLS),
		slog.Bool("redis", cfg.RedisURL != ""),
	)

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStore()

	backend, err := commerce.New(commerce.Config{
		BaseURL:           cfg.Backend.URL,
		BasePath:          cfg.Backend.BasePath,
		PublishableKey:    cfg.Backend.PublishableKey,
		ChromeTLS:         cfg.Backend.ChromeTLS,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	registry := engine.NewRegistry(engine.RegistryConfig{
		NewBackend: func(ts adapter.TokenSource) adapter.Backend {
			return backend.ForSession(ts)
		},
		Storage: store,
		Settings: engine.Settings{
			RegionID:          cfg.RegionID,
			DebounceWindow:    cfg.DebounceWindow,
			SubmitLockTimeout: cfg.SubmitLockTimeout,
			Logger:            logger,
		},
		IdleTimeout: cfg.SessionIdleTimeout,
	})
	defer registry.Close()

	h := handler.New(registry, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → session → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Session(cfg.IsProduction()),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweep(sweepCtx, registry)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStorage returns Redis-backed storage when configured, else in-memory.
// In-memory storage loses carts and submission markers on restart.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.RedisURL == "" {
		return storage.NewMemory(), func() {}, nil
	}

	r, err := storage.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

// sweep periodically closes idle session engines until ctx is done.
func sweep(ctx context.Context, registry *engine.Registry) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Sweep()
		}
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
