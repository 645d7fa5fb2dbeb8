package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/health-risk-engine/pkg/riskmodel"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite history store, creating the database
// file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the table and indexes. created_at holds unix
// nanoseconds so ordering is numeric.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessment_history (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		condition TEXT NOT NULL,
		risk_percentage REAL NOT NULL,
		risk_level TEXT NOT NULL,
		top_factor TEXT NOT NULL DEFAULT '',
		narrative_source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_patient_created ON assessment_history(patient_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteRecord(s scanner) (*Record, error) {
	r := &Record{}
	var condition, level string
	var createdAt int64

	err := s.Scan(&r.ID, &r.PatientID, &condition, &r.RiskPercentage, &level,
		&r.TopFactor, &r.NarrativeSource, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Condition = riskmodel.Condition(condition)
	r.RiskLevel, _ = riskmodel.ParseRiskLevel(level)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return r, nil
}

// Save inserts an assessment record.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	prepare(record)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessment_history (
			id, patient_id, condition, risk_percentage, risk_level,
			top_factor, narrative_source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.PatientID,
		string(record.Condition),
		record.RiskPercentage,
		record.RiskLevel.String(),
		record.TopFactor,
		record.NarrativeSource,
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

const sqliteSelect = `
	SELECT id, patient_id, condition, risk_percentage, risk_level,
		top_factor, narrative_source, created_at
	FROM assessment_history`

// ListByPatient returns a patient's records, newest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+`
		WHERE patient_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collectSQLite(rows)
}

func (s *SQLiteStore) listAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+`
		ORDER BY created_at DESC
		LIMIT ?
	`, maxExportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return collectSQLite(rows)
}

func collectSQLite(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assessment_history").Scan(&count)
	return count, err
}

func (s *SQLiteStore) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM assessment_history WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ExportJSON exports all records to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.listAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	return writeExport(writer, all)
}

// ImportJSON imports records from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importRecords(ctx, reader, s.exists, s.Save)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
