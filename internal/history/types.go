// Package history stores assessment snapshots so a patient's risk can be
// followed over time. Writes are best-effort from the caller's side.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/health-risk-engine/pkg/riskmodel"
)

// Record is one stored assessment for one condition.
type Record struct {
	ID              string              `json:"id"`
	PatientID       string              `json:"patient_id"`
	Condition       riskmodel.Condition `json:"condition"`
	RiskPercentage  float64             `json:"risk_percentage"`
	RiskLevel       riskmodel.RiskLevel `json:"risk_level"`
	TopFactor       string              `json:"top_factor,omitempty"`
	NarrativeSource string              `json:"narrative_source,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Store defines the interface for assessment history storage.
type Store interface {
	// Save inserts a record, assigning ID and CreatedAt when unset.
	Save(ctx context.Context, record *Record) error

	// ListByPatient returns up to limit records, newest first.
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every record to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON loads records, skipping IDs already present.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}

const exportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// RecordsFromExplanations builds one record per condition.
func RecordsFromExplanations(patientID, narrativeSource string, explanations []riskmodel.ConditionExplanation) []*Record {
	records := make([]*Record, 0, len(explanations))
	for _, e := range explanations {
		top := ""
		if len(e.Importances) > 0 {
			top = e.Importances[0].Label
		}
		records = append(records, &Record{
			PatientID:       patientID,
			Condition:       e.Risk.Condition,
			RiskPercentage:  e.Risk.RiskPercentage,
			RiskLevel:       e.Risk.RiskLevel,
			TopFactor:       top,
			NarrativeSource: narrativeSource,
		})
	}
	return records
}

func prepare(record *Record) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}

func writeExport(writer io.Writer, records []*Record) error {
	export := &Export{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Records:    records,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importRecords(
	ctx context.Context,
	reader io.Reader,
	exists func(context.Context, string) (bool, error),
	save func(context.Context, *Record) error,
) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, r := range export.Records {
		if r == nil || r.PatientID == "" {
			skipped++
			continue
		}
		if r.ID != "" {
			found, err := exists(ctx, r.ID)
			if err != nil {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
			if found {
				skipped++
				continue
			}
		}
		if err := save(ctx, r); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}
	return imported, skipped, nil
}
