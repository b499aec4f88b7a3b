package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haukened/shavar/internal/shavar/common/clock"
	"github.com/haukened/shavar/internal/shavar/common/log"
	"github.com/haukened/shavar/internal/shavar/config"
	"github.com/haukened/shavar/internal/shavar/gateways/fetch"
	"github.com/haukened/shavar/internal/shavar/repos/chunkdb"
	"github.com/haukened/shavar/internal/shavar/services/updater"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "shavard"
)

// Application holds all the components of the update daemon
type Application struct {
	config  *config.AppConfig
	store   *chunkdb.Store
	updater *updater.Updater
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":         version,
		"env":             cfg.Env,
		"log_level":       cfg.LogLevel,
		"url_prefix":      cfg.URLPrefix,
		"update_interval": cfg.UpdateIntervalSec,
		"db_path":         cfg.DBPath,
	}, "Starting shavard update daemon")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Update daemon failed")
	}

	log.Info(nil, "shavard stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	// Build repository layer
	store, err := chunkdb.Open(chunkdb.Options{
		Path:      cfg.DBPath,
		CacheSize: cfg.CacheSize,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}

	log.Info(map[string]any{
		"db_path":    cfg.DBPath,
		"cache_size": cfg.CacheSize,
	}, "Chunk database opened")

	// Build gateway layer
	requestTimeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	fetcher := fetch.New(fetch.Options{Timeout: requestTimeout})

	// Build service layer
	upd, err := updater.New(updater.Options{
		Config: updater.Config{
			ClientName:             cfg.ClientName,
			AppVersion:             cfg.AppVersion,
			ProtocolVersion:        cfg.ProtocolVersion,
			Key:                    cfg.Key,
			AdditionalQuery:        cfg.AdditionalQuery,
			URLPrefix:              cfg.URLPrefix,
			BackupConnectURLPrefix: cfg.BackupConnectURLPrefix,
			BackupHTTPURLPrefix:    cfg.BackupHTTPURLPrefix,
			BackupNetworkURLPrefix: cfg.BackupNetworkURLPrefix,
			UpdateInterval:         time.Duration(cfg.UpdateIntervalSec) * time.Second,
			RequestTimeout:         requestTimeout,
		},
		Delegate: store,
		Fetcher:  fetcher,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	return &Application{
		config:  cfg,
		store:   store,
		updater: upd,
	}, nil
}

// Run starts the update loop and blocks until context is cancelled
func (app *Application) Run(ctx context.Context) error {
	// Kick off the first update immediately; the updater schedules every
	// cycle after that on its own.
	app.updater.ForceScheduleNextUpdate(0)

	log.Info(map[string]any{
		"url_prefix": app.config.URLPrefix,
	}, "Update loop started")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	app.updater.Stop()
	if err := app.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing chunk database")
		return fmt.Errorf("close chunk database: %w", err)
	}

	log.Info(nil, "Graceful shutdown completed")
	return nil
}
