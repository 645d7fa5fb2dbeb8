// Package config provides configuration management for the risk engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Narrative cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Optional text-generation service; empty URL means template narratives only
	NarrativeURL     string
	NarrativeAPIKey  string
	NarrativeModel   string
	NarrativeTimeout time.Duration

	// Engine
	WaterfallMode   string // model, legacy
	SimulationPaths int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".health-risk-engine")

	return &LiteConfig{
		DataDir:          dataDir,
		CacheMaxItems:    1000,
		CacheTTL:         6 * time.Hour,
		NarrativeModel:   "gpt-4o-mini",
		NarrativeTimeout: 8 * time.Second,
		WaterfallMode:    "model",
		SimulationPaths:  1000,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("HEALTHRISK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("HEALTHRISK_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("HEALTHRISK_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.NarrativeURL = os.Getenv("HEALTHRISK_NARRATIVE_URL")
	cfg.NarrativeAPIKey = os.Getenv("HEALTHRISK_NARRATIVE_API_KEY")
	if v := os.Getenv("HEALTHRISK_NARRATIVE_MODEL"); v != "" {
		cfg.NarrativeModel = v
	}
	if v := os.Getenv("HEALTHRISK_NARRATIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.NarrativeTimeout = d
		}
	}

	if v := os.Getenv("HEALTHRISK_WATERFALL_MODE"); v != "" {
		cfg.WaterfallMode = v
	}
	if v := os.Getenv("HEALTHRISK_SIMULATION_PATHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SimulationPaths = n
		}
	}

	if v := os.Getenv("HEALTHRISK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HEALTHRISK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// HistoryDBPath returns the path to the assessment history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
