package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/amaumene/gostreamd/internal/api"
	"github.com/amaumene/gostreamd/internal/config"
	"github.com/amaumene/gostreamd/internal/grant"
	"github.com/amaumene/gostreamd/internal/metrics"
	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/scheduler"
	"github.com/amaumene/gostreamd/internal/services/catalog"
	"github.com/amaumene/gostreamd/internal/services/origin"
	"github.com/amaumene/gostreamd/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting Gostreamd")
	logger.WithField("config_dir", filepath.Dir(cfg.DatabaseFile)).Info("Configuration loaded")

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Database initialized")

	// 4. Initialize services
	catalogClient, err := catalog.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog client: %w", err)
	}
	logger.Info("Catalog client initialized")

	originClient, err := origin.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize origin client: %w", err)
	}
	logger.Info("Origin client initialized")

	issuer := grant.NewIssuer(cfg.SigningSecret, cfg.DownloadBaseURL)
	collector := metrics.NewCollector()

	// 5. Initialize scheduler
	sched := scheduler.NewScheduler(originClient, db, cfg.ProgressRetentionDays, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 6. Initialize HTTP server
	server := api.NewServer(cfg, api.Deps{
		Catalog:   catalogClient,
		Origin:    originClient,
		Issuer:    issuer,
		DB:        db,
		Collector: collector,
	}, logger)

	// Start server in goroutine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 7. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Gostreamd is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("Gostreamd stopped")
	return nil
}
