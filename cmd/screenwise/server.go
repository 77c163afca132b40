package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/screenwise/screenwise/internal/api"
	"github.com/screenwise/screenwise/internal/classifier"
	"github.com/screenwise/screenwise/internal/config"
	"github.com/screenwise/screenwise/internal/ledger"
	"github.com/screenwise/screenwise/internal/metrics"
	"github.com/screenwise/screenwise/internal/service"
	"github.com/screenwise/screenwise/internal/storage"
	"github.com/screenwise/screenwise/internal/storage/bolt"
	"github.com/screenwise/screenwise/internal/storage/redis"
	"github.com/screenwise/screenwise/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start ScreenWise server",
	Long:  `Start the ScreenWise server with the JSON API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ScreenWise")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	// Initialize ledger and service
	usageLedger := ledger.New(store.Usage(), cfg.Arbiter.DefaultDailyMinutes, logger)

	svc, err := service.New(usageLedger, service.Options{
		Classifier:         buildClassifier(cfg.Classifier, logger),
		SessionTTL:         parseDuration(cfg.Arbiter.SessionTTL, 10*time.Minute),
		OverrideWindowDays: cfg.Arbiter.OverrideWindowDays,
		TrendWindowDays:    cfg.Arbiter.TrendWindowDays,
		MaxDeltaMinutes:    cfg.Usage.MaxDeltaMinutes,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	// Session expiry sweeper
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx, parseDuration(cfg.Arbiter.SweepInterval, time.Minute))

	// Start API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, svc, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Start metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("ScreenWise startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd readiness")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd stopping")
	}

	cancel()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("ScreenWise stopped")
	return nil
}

// openStorage builds the configured storage backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

// buildClassifier builds the configured justification classifier.
func buildClassifier(cfg config.ClassifierConfig, logger zerolog.Logger) classifier.Classifier {
	if cfg.Mode == "remote" {
		return classifier.NewHTTPClassifier(classifier.HTTPConfig{
			URL:     cfg.URL,
			Timeout: parseDuration(cfg.Timeout, 5*time.Second),
		}, func() { metrics.ClassifierFallbacks.Inc() }, logger)
	}
	return classifier.NewRuleClassifier(nil)
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
