package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batterycounter/config"
	"batterycounter/internal/api"
	"batterycounter/internal/core"
	"batterycounter/internal/logging"
	"batterycounter/internal/storage"
	"batterycounter/internal/storage/postgres"
	"batterycounter/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
	slog.SetDefault(logger)
	mainLogger := logger.With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := openStorage(ctx, cfg.Database, mainLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := api.NewRouter(api.RouterConfig{
		Storage: db,
		Factors: core.ImpactFactors{
			SoilPerItem:  cfg.Impact.SoilPerBattery,
			WaterPerItem: cfg.Impact.WaterPerBattery,
		},
		DeviceTokens: cfg.Security.DeviceTokens,
		RateLimit:    cfg.RateLimit,
		Registry:     registry,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		mainLogger.Info("Starting HTTP server",
			"addr", server.Addr,
			"database", cfg.Database.Driver,
			"device_auth", len(cfg.Security.DeviceTokens) > 0,
			"rate_limit_rps", cfg.RateLimit.RPS,
		)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		mainLogger.Info("Shutdown signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		mainLogger.Info("Graceful shutdown complete")
	}

	return nil
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		logger.Info("Connecting to PostgreSQL")
		return postgres.New(ctx, cfg.DSN)
	default:
		logger.Info("Opening SQLite database", "path", cfg.Path)
		return sqlite.New(cfg.Path)
	}
}
