package history

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-risk-engine/pkg/riskmodel"
)

var historyColumns = []string{
	"id", "patient_id", "condition", "risk_percentage", "risk_level",
	"top_factor", "narrative_source", "created_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO assessment_history").
		WithArgs("rec-1", "p-1", "cardiovascular", 31.5, "very-high", "Age", "llm", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), &Record{
		ID:              "rec-1",
		PatientID:       "p-1",
		Condition:       riskmodel.ConditionCardiovascular,
		RiskPercentage:  31.5,
		RiskLevel:       riskmodel.RiskVeryHigh,
		TopFactor:       "Age",
		NarrativeSource: "llm",
		CreatedAt:       at,
	})
	require.NoError(t, err)
}

func TestPostgresStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO assessment_history").
		WithArgs(sqlmock.AnyArg(), "p-1", "diabetes", 5.0, "low", "", "", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), &Record{PatientID: "p-1", Condition: riskmodel.ConditionDiabetes, RiskPercentage: 5})
	assert.ErrorContains(t, err, "connection reset")
}

func TestPostgresStore_ListByPatient(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(historyColumns).
		AddRow("r2", "p-1", "diabetes", 12.0, "moderate", "BMI", "template", at.Add(time.Hour)).
		AddRow("r1", "p-1", "cardiovascular", 25.0, "high", "Age", "llm", at)
	mock.ExpectQuery("SELECT (.+) FROM assessment_history\\s+WHERE patient_id = \\$1").
		WithArgs("p-1", 5).
		WillReturnRows(rows)

	got, err := store.ListByPatient(context.Background(), "p-1", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, riskmodel.ConditionDiabetes, got[0].Condition)
	assert.Equal(t, riskmodel.RiskModerate, got[0].RiskLevel)
	assert.Equal(t, riskmodel.RiskHigh, got[1].RiskLevel)
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM assessment_history").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestPostgresStore_ImportSkipsExisting(t *testing.T) {
	store, mock := newMockStore(t)

	payload := `{"version":"1.0","count":2,"records":[
		{"id":"known","patient_id":"p-1","condition":"diabetes","risk_percentage":9,"risk_level":"low","created_at":"2026-05-01T00:00:00Z"},
		{"id":"fresh","patient_id":"p-1","condition":"diabetes","risk_percentage":11,"risk_level":"moderate","created_at":"2026-05-02T00:00:00Z"}
	]}`

	mock.ExpectQuery("SELECT 1 FROM assessment_history WHERE id = \\$1").
		WithArgs("known").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM assessment_history WHERE id = \\$1").
		WithArgs("fresh").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO assessment_history").
		WithArgs("fresh", "p-1", "diabetes", 11.0, "moderate", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	imported, skipped, err := store.ImportJSON(context.Background(), bytes.NewReader([]byte(payload)))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
}

func TestPostgresStore_ExportJSON(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM assessment_history\\s+ORDER BY created_at DESC").
		WithArgs(maxExportLimit).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow("r1", "p-1", "cardiovascular", 25.0, "high", "Age", "llm", at))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))
	assert.Contains(t, buf.String(), `"risk_level": "high"`)
	assert.Contains(t, buf.String(), `"count": 1`)
}
