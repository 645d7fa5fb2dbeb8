package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/health-risk-engine/pkg/riskmodel"
)

// PostgresStore implements the Store interface using PostgreSQL. The
// assessment_history table is created by the database migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a PostgreSQL history store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save inserts an assessment record.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	prepare(record)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_history (
			id, patient_id, condition, risk_percentage, risk_level,
			top_factor, narrative_source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID,
		record.PatientID,
		string(record.Condition),
		record.RiskPercentage,
		record.RiskLevel.String(),
		record.TopFactor,
		record.NarrativeSource,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

const postgresSelect = `
	SELECT id, patient_id, condition, risk_percentage, risk_level,
		top_factor, narrative_source, created_at
	FROM assessment_history`

// ListByPatient returns a patient's records, newest first.
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, postgresSelect+`
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return collectPostgres(rows)
}

func collectPostgres(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		r := &Record{}
		var condition, level string
		err := rows.Scan(&r.ID, &r.PatientID, &condition, &r.RiskPercentage, &level,
			&r.TopFactor, &r.NarrativeSource, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Condition = riskmodel.Condition(condition)
		r.RiskLevel, _ = riskmodel.ParseRiskLevel(level)
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assessment_history").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM assessment_history WHERE id = $1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ExportJSON exports all records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, postgresSelect+`
		ORDER BY created_at DESC
		LIMIT $1
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	all, err := collectPostgres(rows)
	if err != nil {
		return err
	}
	return writeExport(writer, all)
}

// ImportJSON imports records from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importRecords(ctx, reader, s.exists, s.Save)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
