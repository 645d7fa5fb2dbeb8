// Package main is the HTTP entry point of the health risk engine. It needs
// PostgreSQL for patient data and optionally Redis for narrative caching.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/api"
	"github.com/health-risk-engine/internal/cache"
	"github.com/health-risk-engine/internal/config"
	"github.com/health-risk-engine/internal/database"
	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/internal/metrics"
	"github.com/health-risk-engine/internal/middleware"
	"github.com/health-risk-engine/internal/repository"
	"github.com/health-risk-engine/internal/service"
	"github.com/health-risk-engine/internal/setup"
	"github.com/health-risk-engine/pkg/external"
	"github.com/health-risk-engine/pkg/riskmodel"
)

const localCacheSize = 1000

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewServerCLI(setup.NewAdmin(configManager, logger))
		if err := cli.Run(ctx, os.Args[2:]); err != nil {
			logger.Fatalf("Setup failed: %v", err)
		}
		return
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		logger.Fatalf("Configuration validation failed: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting health risk engine")

	db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	narrativeCache, health, closeCache := newNarrativeCache(cfg.Cache, logger, db.Health)
	defer closeCache()

	narrator := external.NewNarrativeService(newTextGenerator(cfg.Narrative, logger), narrativeCache, external.NarrativeOptions{
		Model:    cfg.Narrative.Model,
		Timeout:  cfg.Narrative.Timeout,
		CacheTTL: cfg.Cache.DefaultTTL,
		Logger:   logger,
	})

	historyStore, err := history.Open(cfg.History, configManager.GetDatabaseURL())
	if err != nil {
		logger.Fatalf("Failed to open assessment history: %v", err)
	}
	if historyStore != nil {
		defer historyStore.Close()
	}

	mode, err := riskmodel.ParseWaterfallMode(cfg.Engine.WaterfallMode)
	if err != nil {
		logger.Fatalf("Invalid engine configuration: %v", err)
	}

	authority, err := middleware.NewTokenAuthority(cfg.Auth)
	if err != nil {
		logger.Fatalf("Invalid auth configuration: %v", err)
	}

	m := metrics.New(nil)
	engine := service.NewRiskService(
		logger,
		repository.NewPatientRepository(db.Pool, logger),
		riskmodel.DefaultModelConfig().WithWaterfallMode(mode),
		cfg.Engine,
		service.Options{
			Narrator: narrator,
			History:  historyStore,
			Metrics:  m,
		},
	)

	server := api.NewServer(configManager, api.Dependencies{
		Engine:    engine,
		Authority: authority,
		Metrics:   m,
		Health:    health,
		Logger:    logger,
	})

	if err := server.Start(ctx); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	switch cfg.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, logging to stdout")
			break
		}
		logger.SetOutput(f)
	}
	return logger
}

// newNarrativeCache prefers Redis and falls back to an in-process LRU when
// Redis is disabled or unreachable. The returned health check covers the
// database and, when used, Redis.
func newNarrativeCache(cfg domain.CacheConfig, logger *logrus.Logger, dbHealth api.HealthFunc) (external.NarrativeCache, api.HealthFunc, func()) {
	if cfg.Enabled {
		client, err := external.NewCacheClient(cfg)
		if err == nil {
			health := func(ctx context.Context) error {
				return errors.Join(dbHealth(ctx), client.Ping(ctx))
			}
			return client, health, func() { _ = client.Close() }
		}
		logger.WithError(err).Warn("Redis unavailable, using in-process narrative cache")
	}

	lru, err := cache.NewNarrativeLRU(localCacheSize, cfg.DefaultTTL)
	if err != nil {
		logger.Fatalf("Failed to create narrative cache: %v", err)
	}
	return lru, dbHealth, func() {}
}

// newTextGenerator returns nil when narrative generation is disabled, which
// makes the narrative service use its template.
func newTextGenerator(cfg domain.NarrativeConfig, logger *logrus.Logger) external.TextGenerator {
	if !cfg.Enabled {
		return nil
	}
	client := external.NewTextGenClient(external.TextGenConfig{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
	})
	return external.NewResilientTextGenerator(client, external.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.BreakerTimeout,
	}, logger)
}
