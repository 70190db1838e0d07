package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/config"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/server"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// no logger yet
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	if cfg.LLM.APIKey == "" {
		logger.Warn("No reasoning gateway API key configured; requests will be rejected upstream")
	}

	svc, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build research service", zap.Error(err))
	}
	if err := svc.Health.Start(ctx); err != nil {
		logger.Warn("Health manager failed to start", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)
		go startMetricsServer(cfg.Metrics.Port, logger)
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("Research service listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("session_backend", cfg.Session.Backend),
			zap.Bool("auth", cfg.Auth.Enabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down research service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Background research runs cancelled", zap.Error(err))
	}
	if err := svc.Close(); err != nil {
		logger.Warn("Failed to release service components", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}
	logger.Info("Research service stopped")
}

func startMetricsServer(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + strconv.Itoa(port)
	logger.Info("Metrics server listening", zap.String("address", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to start metrics server", zap.Error(err))
	}
}
