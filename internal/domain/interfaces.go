package domain

import (
	"context"

	"github.com/health-risk-engine/pkg/riskmodel"
)

// PatientRepository reads the two tables the risk engine consumes. Missing
// records are reported with ErrNotFound.
type PatientRepository interface {
	GetProfile(ctx context.Context, patientID string) (*riskmodel.Profile, error)
	GetLatestVitals(ctx context.Context, patientID string) (*riskmodel.VitalSigns, error)
	// GetVitalHistory returns up to limit readings, most recent first.
	GetVitalHistory(ctx context.Context, patientID string, limit int) ([]riskmodel.VitalSigns, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetNarrativeConfig() *NarrativeConfig
	GetEngineConfig() *EngineConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
