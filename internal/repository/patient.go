package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/pkg/riskmodel"
)

// PatientRepository reads and writes patient profiles and vital signs
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

var _ domain.PatientRepository = (*PatientRepository)(nil)

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// GetProfile retrieves the demographic profile of a patient
func (r *PatientRepository) GetProfile(ctx context.Context, patientID string) (*riskmodel.Profile, error) {
	query := `
		SELECT date_of_birth, gender, height_cm, weight_kg, smoker
		FROM patient_profiles
		WHERE patient_id = $1`

	var profile riskmodel.Profile
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&profile.DateOfBirth,
		&profile.Gender,
		&profile.HeightCm,
		&profile.WeightKg,
		&profile.Smoker,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get patient profile")
		return nil, fmt.Errorf("getting patient profile: %w", err)
	}

	return &profile, nil
}

const vitalColumns = `recorded_at, systolic_bp, diastolic_bp, heart_rate, blood_glucose, oxygen_saturation`

func scanVitals(row pgx.Row) (riskmodel.VitalSigns, error) {
	var v riskmodel.VitalSigns
	err := row.Scan(
		&v.RecordedAt,
		&v.SystolicBP,
		&v.DiastolicBP,
		&v.HeartRate,
		&v.BloodGlucose,
		&v.OxygenSaturation,
	)
	return v, err
}

// GetLatestVitals retrieves the most recent vital signs reading
func (r *PatientRepository) GetLatestVitals(ctx context.Context, patientID string) (*riskmodel.VitalSigns, error) {
	query := `
		SELECT ` + vitalColumns + `
		FROM vital_signs
		WHERE patient_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`

	v, err := scanVitals(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vital signs not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get latest vital signs")
		return nil, fmt.Errorf("getting latest vital signs: %w", err)
	}

	return &v, nil
}

// GetVitalHistory returns up to limit readings, most recent first. An empty
// history is not an error.
func (r *PatientRepository) GetVitalHistory(ctx context.Context, patientID string, limit int) ([]riskmodel.VitalSigns, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT ` + vitalColumns + `
		FROM vital_signs
		WHERE patient_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to query vital history")
		return nil, fmt.Errorf("querying vital history: %w", err)
	}
	defer rows.Close()

	var history []riskmodel.VitalSigns
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vital signs: %w", err)
		}
		history = append(history, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vital history: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"readings":   len(history),
	}).Debug("Loaded vital history")

	return history, nil
}

// UpsertProfile creates or replaces a patient profile
func (r *PatientRepository) UpsertProfile(ctx context.Context, patientID string, profile *riskmodel.Profile) error {
	query := `
		INSERT INTO patient_profiles (patient_id, date_of_birth, gender, height_cm, weight_kg, smoker, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			height_cm = EXCLUDED.height_cm,
			weight_kg = EXCLUDED.weight_kg,
			smoker = EXCLUDED.smoker,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		patientID,
		profile.DateOfBirth,
		profile.Gender,
		profile.HeightCm,
		profile.WeightKg,
		profile.Smoker,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting patient profile: %w", err)
	}
	return nil
}

// RecordVitals appends a vital signs reading. A zero RecordedAt means now.
func (r *PatientRepository) RecordVitals(ctx context.Context, patientID string, vitals *riskmodel.VitalSigns) error {
	recordedAt := vitals.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO vital_signs (patient_id, ` + vitalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		patientID,
		recordedAt,
		vitals.SystolicBP,
		vitals.DiastolicBP,
		vitals.HeartRate,
		vitals.BloodGlucose,
		vitals.OxygenSaturation,
	)
	if err != nil {
		return fmt.Errorf("recording vital signs: %w", err)
	}
	return nil
}
