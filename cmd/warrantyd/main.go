// cmd/warrantyd/main.go
// Package main implements the entry point for the warranty service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warrantypro/warranty-core-go/internal/ai"
	"github.com/warrantypro/warranty-core-go/internal/claims"
	"github.com/warrantypro/warranty-core-go/internal/config"
	"github.com/warrantypro/warranty-core-go/internal/dedup"
	"github.com/warrantypro/warranty-core-go/internal/delivery"
	"github.com/warrantypro/warranty-core-go/internal/directory"
	"github.com/warrantypro/warranty-core-go/internal/event"
	"github.com/warrantypro/warranty-core-go/internal/expiry"
	"github.com/warrantypro/warranty-core-go/internal/metrics"
	"github.com/warrantypro/warranty-core-go/internal/server"
	"github.com/warrantypro/warranty-core-go/internal/storage"
	"github.com/warrantypro/warranty-core-go/internal/telemetry"
)

// main initializes all components, starts the HTTP server and the expiry
// scheduler, and handles graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	_, err = telemetry.InitTracer("warranty-service")
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	// Initialize storage backend (PostgreSQL or in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		store = storage.NewMemory()
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisherFromEnv()
	defer pub.Close()

	// Redis-backed dedup guard for the expiry engine; the engine falls back
	// to the notification ledger's unique constraint without it.
	var guard *dedup.Guard
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		guard = dedup.NewGuard(redis.NewClient(opts))
	}

	// AI provider and email channel
	provider := ai.New(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	channel := delivery.New(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)

	sharedMetrics := metrics.NewMetrics()

	// Expiry engine. Alert emails need the owner directory to resolve
	// addresses; without it the engine still records notifications.
	engineOpts := []expiry.Option{
		expiry.WithGuard(guard),
		expiry.WithPublisher(pub),
		expiry.WithMetrics(sharedMetrics),
	}
	if cfg.OwnerDirectoryURL != "" {
		engineOpts = append(engineOpts, expiry.WithDelivery(channel, directory.New(cfg.OwnerDirectoryURL)))
	}
	engine := expiry.New(store, engineOpts...)

	// Built-in scheduler for deployments without an external cron
	var scheduler *expiry.Scheduler
	if cfg.CheckIntervalHours > 0 {
		scheduler = expiry.NewScheduler(engine, time.Duration(cfg.CheckIntervalHours)*time.Hour)
		scheduler.Start(context.Background())
		defer scheduler.Stop()
	}

	// Claim workflow controller
	claimsCtrl := claims.New(store, provider, channel,
		claims.WithPublisher(pub),
		claims.WithMetrics(sharedMetrics),
	)

	// Create HTTP mux with all handlers and middleware
	mux := server.NewMux(store, engine, claimsCtrl, cfg, nil)

	// Create HTTP server with timeout configuration
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // AI calls can take a while
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	// Close PostgreSQL storage if used
	if postgresStore, ok := store.(interface{ Close() }); ok {
		postgresStore.Close()
	}

	logger.Info("server exited")
}
