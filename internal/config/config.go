package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/pkg/riskmodel"
)

const envPrefix = "HEALTHRISK"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	paths  []string
	config *domain.Config
}

// NewManager creates a new configuration manager that searches the default
// locations for config.yaml.
func NewManager() (*Manager, error) {
	return NewManagerWithPaths(".", "./config", "/etc/health-risk-engine/")
}

// NewManagerWithPaths creates a configuration manager that searches only the
// given directories for config.yaml.
func NewManagerWithPaths(paths ...string) (*Manager, error) {
	m := &Manager{paths: paths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "20s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "health_portal")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "") // empty uses the embedded migrations

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "6h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Narrative defaults
	v.SetDefault("narrative.enabled", false)
	v.SetDefault("narrative.base_url", "https://api.openai.com/v1")
	v.SetDefault("narrative.api_key", "")
	v.SetDefault("narrative.model", "gpt-4o-mini")
	v.SetDefault("narrative.max_tokens", 400)
	v.SetDefault("narrative.timeout", "8s")
	v.SetDefault("narrative.rate_limit", 5)
	v.SetDefault("narrative.failure_threshold", 5)
	v.SetDefault("narrative.breaker_timeout", "60s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "health-portal")
	v.SetDefault("auth.token_ttl", "1h")

	// Engine defaults
	v.SetDefault("engine.waterfall_mode", string(riskmodel.WaterfallModel))
	v.SetDefault("engine.default_months", 12)
	v.SetDefault("engine.max_months", 60)
	v.SetDefault("engine.default_paths", 1000)
	v.SetDefault("engine.max_paths", 10000)
	v.SetDefault("engine.vital_history", 30)

	// History defaults
	v.SetDefault("history.backend", "postgres")
	v.SetDefault("history.sqlite_path", "./data/history.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// MCP defaults
	v.SetDefault("mcp.server_name", "health-risk-engine")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetNarrativeConfig returns the text-generation service configuration
func (m *Manager) GetNarrativeConfig() *domain.NarrativeConfig {
	return &m.config.Narrative
}

// GetEngineConfig returns the risk engine tuning
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert_file or key_file is missing")
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the cache is enabled")
	}

	if config.Narrative.Enabled {
		if config.Narrative.BaseURL == "" {
			return fmt.Errorf("narrative base URL is required")
		}
		if config.Narrative.Model == "" {
			return fmt.Errorf("narrative model is required")
		}
		if config.Narrative.Timeout <= 0 {
			return fmt.Errorf("narrative timeout must be positive")
		}
	}

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}
	if m.IsProduction() && len(config.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth JWT secret must be at least 32 characters in production")
	}

	if _, err := riskmodel.ParseWaterfallMode(config.Engine.WaterfallMode); err != nil {
		return err
	}
	if config.Engine.DefaultMonths <= 0 || config.Engine.DefaultMonths > config.Engine.MaxMonths {
		return fmt.Errorf("invalid default months: %d", config.Engine.DefaultMonths)
	}
	if config.Engine.DefaultPaths <= 0 || config.Engine.DefaultPaths > config.Engine.MaxPaths {
		return fmt.Errorf("invalid default paths: %d", config.Engine.DefaultPaths)
	}

	switch config.History.Backend {
	case "postgres", "none":
	case "sqlite":
		if config.History.SQLitePath == "" {
			return fmt.Errorf("history sqlite path is required")
		}
	default:
		return fmt.Errorf("invalid history backend: %s", config.History.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the connection string in URL form, as required by
// the migration driver.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.v.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
