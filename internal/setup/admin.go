package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/database"
	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/internal/middleware"
)

// AdminConfig is the configuration surface the admin commands need.
type AdminConfig interface {
	domain.ConfigManager
	GetDatabaseURL() string
}

// Admin runs maintenance tasks against the HTTP server's configuration.
type Admin struct {
	config AdminConfig
	logger *logrus.Logger
}

// NewAdmin creates an admin command runner
func NewAdmin(config AdminConfig, logger *logrus.Logger) *Admin {
	return &Admin{config: config, logger: logger}
}

func (a *Admin) migrationRunner() (*database.MigrationRunner, error) {
	return database.NewMigrationRunner(
		a.config.GetDatabaseURL(),
		a.config.GetDatabaseConfig().MigrationsPath,
		a.logger,
	)
}

// MigrateUp applies all pending schema migrations.
func (a *Admin) MigrateUp(ctx context.Context) error {
	runner, err := a.migrationRunner()
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}

// MigrateDown rolls back every schema migration.
func (a *Admin) MigrateDown(ctx context.Context) error {
	runner, err := a.migrationRunner()
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Down(ctx)
}

// Validate checks the loaded configuration.
func (a *Admin) Validate() error {
	return a.config.Validate()
}

// IssueToken signs a development bearer token for patientID.
func (a *Admin) IssueToken(patientID string) (string, error) {
	authority, err := middleware.NewTokenAuthority(a.config.GetConfig().Auth)
	if err != nil {
		return "", err
	}
	return authority.Issue(patientID)
}

// ExportHistory writes every stored assessment as JSON to path, or to out
// when path is "-".
func (a *Admin) ExportHistory(ctx context.Context, path string, out io.Writer) error {
	store, err := history.Open(a.config.GetConfig().History, a.config.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	if store == nil {
		return errors.New("assessment history is disabled")
	}
	defer store.Close()

	return exportStore(ctx, store, path, out)
}

func exportStore(ctx context.Context, store history.Store, path string, out io.Writer) error {
	if path == "-" {
		return store.ExportJSON(ctx, out)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := store.ExportJSON(ctx, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
