package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"liveapp/internal/config"
	"liveapp/internal/logging"
	"liveapp/internal/otel"
	"liveapp/internal/server"
)

// @title Live App
// @version 1.0
// @description Static frontend and liveness status.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.LogLocation)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, reg, logger)
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	select {
	case err := <-errCh:
		// Bind failures end up here; exiting non-zero lets the supervisor restart us.
		if err != nil {
			logger.Error("server_failed", nil, err)
			_ = shutdownTracing(context.Background())
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("server_stopping", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", nil, err)
		}
		<-errCh
	}

	if err := shutdownTracing(context.Background()); err != nil {
		logger.Error("tracing_shutdown_failed", nil, err)
	}
	logger.Info("server_stopped", nil)
}
