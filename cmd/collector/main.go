// Package main is the entry point for the development analytics collector.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/localbiz/directory-analytics/internal/config"
	"github.com/localbiz/directory-analytics/internal/handler"
	natsclient "github.com/localbiz/directory-analytics/internal/nats"
	"github.com/localbiz/directory-analytics/internal/service"
	"github.com/localbiz/directory-analytics/pkg/logger"
	"github.com/localbiz/directory-analytics/pkg/tracing"
)

const serviceName = "analytics-collector"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting analytics collector")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	natsClient, err := natsclient.Connect(connectCtx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	cancelConnect()
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	ingestSvc := service.NewIngestService(streamManager, cfg.MaxBatchSize, log)

	router := handler.NewRouter(handler.RouterConfig{
		Analytics:          handler.NewAnalyticsHandler(ingestSvc, log),
		Health:             handler.NewHealthHandler(natsClient),
		Logger:             log,
		JWTSecret:          cfg.JWTSecret,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ServiceName:        serviceName,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
