package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents the Redis narrative cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// NarrativeConfig configures the external text-generation service.
// With Enabled false every narrative comes from the local template.
type NarrativeConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        int           `mapstructure:"rate_limit"` // requests per second
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// EngineConfig tunes the risk engine
type EngineConfig struct {
	WaterfallMode string `mapstructure:"waterfall_mode"` // "model", "legacy"
	DefaultMonths int    `mapstructure:"default_months"`
	MaxMonths     int    `mapstructure:"max_months"`
	DefaultPaths  int    `mapstructure:"default_paths"`
	MaxPaths      int    `mapstructure:"max_paths"`
	VitalHistory  int    `mapstructure:"vital_history"` // readings used for temporal signals
}

// HistoryConfig selects the assessment history backend
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"` // "sqlite", "postgres", "none"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig represents Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
