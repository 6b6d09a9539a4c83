package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/handlers"
	"github.com/relayforge/bridge-engine/pkg/logging"
	"github.com/relayforge/bridge-engine/pkg/middleware"
	"github.com/relayforge/bridge-engine/pkg/retry"
	"github.com/relayforge/bridge-engine/pkg/scheduler"
	"github.com/relayforge/bridge-engine/pkg/services"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("tracker_base_url", cfg.Tracker.BaseURL),
		zap.String("crm_base_url", cfg.CRM.BaseURL),
		zap.Duration("cycle_interval", cfg.CycleInterval()))

	// Database errors can echo the DSN, password included.
	if err := store.RunMigrations(&cfg.Database, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*store.DB, error) {
		return store.Open(ctx, &cfg.Database)
	})
	if err != nil {
		logger.Fatal("Failed to open database", zap.String("error", logging.SanitizeError(err)))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()

	repos := store.NewRepositories(db)
	tracker := gateway.NewTrackerGateway(&cfg.Tracker, logger)
	crm := gateway.NewCRMGateway(&cfg.CRM, logger)
	engine := services.NewEngine(cfg, tracker, crm, repos, logger)
	orchestrator := services.NewOrchestrator(engine, logger)

	sched := scheduler.New(orchestrator, cfg.CycleInterval(), cfg.ReconciliationInterval(), logger)
	go sched.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, orchestrator, logger).RegisterRoutes(mux)
	handlers.NewSyncHandler(orchestrator, engine, logger).RegisterRoutes(mux)
	handlers.NewReportHandler(repos, engine, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting bridge-engine",
		zap.String("addr", srv.Addr),
		zap.String("version", cfg.Version))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
