package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"campus-assistant/internal/adapter/assistant_http"
	"campus-assistant/internal/di"
	"campus-assistant/internal/infra"
	"campus-assistant/internal/infra/config"
	"campus-assistant/internal/infra/logger"
	"campus-assistant/internal/infra/otel"
)

var version = "dev"

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize Telemetry and Logger
	shutdownOTel, err := otel.InitProvider(context.Background(), otel.Config{
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			slog.Error("failed to shut down telemetry", "error", err)
		}
	}()

	log := logger.NewWithOTel(cfg.OTel.Enabled)
	slog.SetDefault(log)

	// 3. Initialize DB
	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// 4. Wire Components
	components, err := di.NewApplicationComponents(cfg, dbPool, log)
	if err != nil {
		log.Error("failed to wire components", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Error("failed to close components", "error", err)
		}
	}()

	// 5. Start Worker
	components.Janitor.Start()
	defer components.Janitor.Stop()

	// 6. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = assistant_http.NewValidator()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(assistant_http.OTelStatusMiddleware(cfg.OTel.ServiceName))

	// 7. Register Routes
	auth := assistant_http.RequireIdentity(components.IdentityProvider)
	assistant_http.RegisterRoutes(e, components.Handler, auth, dbPool)

	// 8. Start Server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Info("Starting server", "addr", addr, "version", version)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	// 9. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
