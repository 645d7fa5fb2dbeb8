package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/health-risk-engine/internal/config"
	"github.com/health-risk-engine/pkg/external"
	"github.com/health-risk-engine/pkg/riskmodel"
	"github.com/health-risk-engine/pkg/simulation"
)

// MockTextGenerator is a mock implementation of the TextGenerator interface
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	cfg.SimulationPaths = 200

	server, err := NewServer(cfg, append([]ServerOption{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func decodeResult[T any](t *testing.T, result any) T {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

const elderlySmoker = `{
	"patient_id": "p-1",
	"age": 70,
	"profile": {"height_cm": 170, "weight_kg": 95, "smoker": true},
	"vitals": {"systolic_bp": 165, "diastolic_bp": 95, "blood_glucose": 130}
}`

func TestNewServer(t *testing.T) {
	server := newTestServer(t)

	assert.NotNil(t, server.mcpServer)
	assert.NotNil(t, server.history)
	assert.Equal(t, riskmodel.WaterfallModel, server.model.WaterfallMode)

	_, err := os.Stat(server.config.HistoryDBPath())
	assert.NoError(t, err, "history database should be created in the data directory")

	names := make([]string, 0)
	for _, def := range server.toolDefinitions() {
		names = append(names, def.tool.Name)
		require.NotNil(t, def.tool.InputSchema, def.tool.Name)
		assert.Equal(t, "object", def.tool.InputSchema.(*jsonschema.Schema).Type)
	}
	assert.Equal(t, []string{"assess_health_risk", "simulate_trajectory", "rank_interventions", "assessment_history"}, names)
}

func TestNewServer_InvalidWaterfallMode(t *testing.T) {
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	cfg.WaterfallMode = "sideways"

	_, err := NewServer(cfg, WithLogger(quietLogger()))
	assert.Error(t, err)
}

func TestAssessHealthRisk_RecordsHistory(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	raw, err := server.assessHealthRisk(ctx, json.RawMessage(elderlySmoker))
	require.NoError(t, err)
	result := raw.(*assessResult)

	require.Len(t, result.Conditions, 2)
	assert.Equal(t, riskmodel.ConditionCardiovascular, result.Conditions[0].Risk.Condition)
	assert.Equal(t, riskmodel.ConditionDiabetes, result.Conditions[1].Risk.Condition)
	assert.Equal(t, 70.0, result.Features.Age)
	assert.Equal(t, 1.0, result.Features.Smoking)
	assert.Equal(t, external.SourceTemplate, result.Narrative.Source)
	assert.NotEmpty(t, result.Narrative.Text)
	assert.True(t, result.Recorded)

	for _, c := range result.Conditions {
		assert.Greater(t, c.Risk.RiskPercentage, riskmodel.BaselineRisk(mustModel(t, server, c.Risk.Condition)))
		assert.NotEmpty(t, c.Importances)
		assert.NotEmpty(t, c.Waterfall)
	}

	raw, err = server.assessmentHistory(ctx, json.RawMessage(`{"patient_id": "p-1"}`))
	require.NoError(t, err)
	records := raw.(*historyResult).Records
	require.Len(t, records, 2)
	assert.Equal(t, "p-1", records[0].PatientID)
	assert.Equal(t, external.SourceTemplate, records[0].NarrativeSource)
}

func mustModel(t *testing.T, server *Server, condition riskmodel.Condition) *riskmodel.ConditionModel {
	t.Helper()
	model, ok := server.model.Model(condition)
	require.True(t, ok)
	return model
}

func TestAssessHealthRisk_WhatIfIsNotRecorded(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	raw, err := server.assessHealthRisk(ctx, json.RawMessage(`{
		"patient_id": "p-2",
		"vitals": {"systolic_bp": 160},
		"what_if": {"systolic_bp": 118, "shoe_size": 44}
	}`))
	require.NoError(t, err)
	result := raw.(*assessResult)

	assert.Equal(t, 118.0, result.Features.SystolicBP)
	assert.Equal(t, []string{"shoe_size"}, result.IgnoredOverrides)
	assert.False(t, result.Recorded)

	count, err := server.history.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAssessHealthRisk_AnonymousIsNotRecorded(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	raw, err := server.assessHealthRisk(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	result := raw.(*assessResult)

	assert.Equal(t, riskmodel.PopulationFeatures(server.model), result.Features)
	assert.False(t, result.Recorded)
}

func TestAssessHealthRisk_GeneratedNarrative(t *testing.T) {
	gen := new(MockTextGenerator)
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string")).Return("Your blood pressure drives most of the risk.", nil).Once()

	server := newTestServer(t, WithTextGenerator(gen))
	ctx := context.Background()

	raw, err := server.assessHealthRisk(ctx, json.RawMessage(elderlySmoker))
	require.NoError(t, err)
	narrative := raw.(*assessResult).Narrative
	assert.Equal(t, external.SourceLLM, narrative.Source)
	assert.Equal(t, "Your blood pressure drives most of the risk.", narrative.Text)

	raw, err = server.assessHealthRisk(ctx, json.RawMessage(elderlySmoker))
	require.NoError(t, err)
	assert.Equal(t, external.SourceCache, raw.(*assessResult).Narrative.Source)

	gen.AssertExpectations(t)
}

func TestAssessHealthRisk_GeneratorFailureFallsBack(t *testing.T) {
	gen := new(MockTextGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("upstream down"))

	server := newTestServer(t, WithTextGenerator(gen))

	raw, err := server.assessHealthRisk(context.Background(), json.RawMessage(elderlySmoker))
	require.NoError(t, err)
	assert.Equal(t, external.SourceTemplate, raw.(*assessResult).Narrative.Source)
}

func TestAssessHealthRisk_InvalidParams(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		args string
	}{
		{"unknown field", `{"weight": 80}`},
		{"negative age", `{"age": -3}`},
		{"malformed", `{"age": `},
		{"bad date", `{"profile": {"date_of_birth": "yesterday"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.assessHealthRisk(context.Background(), json.RawMessage(tt.args))
			require.Error(t, err)
			assert.ErrorIs(t, err, errInvalidParams)
		})
	}
}

func TestSimulateTrajectory(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	t.Run("defaults from series", func(t *testing.T) {
		raw, err := server.simulateTrajectory(ctx, json.RawMessage(`{"series": [150, 145, 140, 135, 130, 125], "seed": 7}`))
		require.NoError(t, err)
		result := raw.(*simulateResult)

		assert.Equal(t, kindVital, result.Kind)
		assert.Equal(t, 150.0, result.Current)
		assert.Equal(t, defaultMonths, result.Months)
		assert.Equal(t, 200, result.Paths)
		assert.Equal(t, uint64(7), result.Seed)
		assert.Len(t, result.Trajectory, defaultMonths)
		assert.Greater(t, result.Signal.Trend, 0.0)
		assert.Equal(t, 6, result.Signal.Samples)
	})

	t.Run("seed is reproducible", func(t *testing.T) {
		args := json.RawMessage(`{"current": 130, "trend": 0.1, "volatility": 0.05, "months": 6, "seed": 42}`)
		first, err := server.simulateTrajectory(ctx, args)
		require.NoError(t, err)
		second, err := server.simulateTrajectory(ctx, args)
		require.NoError(t, err)
		assert.Equal(t, first.(*simulateResult).Trajectory, second.(*simulateResult).Trajectory)
	})

	t.Run("risk stays in range", func(t *testing.T) {
		raw, err := server.simulateTrajectory(ctx, json.RawMessage(`{"kind": "risk", "current": 90, "trend": 0.5, "volatility": 0.3, "seed": 1}`))
		require.NoError(t, err)
		for _, point := range raw.(*simulateResult).Trajectory {
			assert.LessOrEqual(t, point.Upper, 95.0)
			assert.GreaterOrEqual(t, point.Lower, 1.0)
		}
	})

	t.Run("extreme values still encode", func(t *testing.T) {
		args := fmt.Sprintf(`{"current": 1e300, "trend": %d, "volatility": %d, "months": %d, "paths": 50, "seed": 3}`, maxTrend, maxVolatility, maxMonths)
		raw, err := server.simulateTrajectory(ctx, json.RawMessage(args))
		require.NoError(t, err)

		_, err = json.Marshal(raw)
		require.NoError(t, err)
		for _, point := range raw.(*simulateResult).Trajectory {
			assert.False(t, math.IsInf(point.Upper, 0))
		}
	})

	invalid := []struct {
		name string
		args string
	}{
		{"no value", `{}`},
		{"unknown kind", `{"kind": "mood", "current": 3}`},
		{"risk above 100", `{"kind": "risk", "current": 140}`},
		{"negative current", `{"current": -1}`},
		{"negative volatility", `{"current": 120, "volatility": -0.2}`},
		{"too many months", `{"current": 120, "months": 61}`},
		{"too many paths", `{"current": 120, "paths": 10001}`},
		{"negative months", `{"current": 120, "months": -2}`},
		{"huge volatility", `{"current": 120, "volatility": 1e300}`},
		{"huge trend", `{"current": 120, "trend": 1e300}`},
		{"near-zero mean series", `{"current": 120, "series": [10, -10, 0.001]}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.simulateTrajectory(ctx, json.RawMessage(tt.args))
			assert.ErrorIs(t, err, errInvalidParams)
		})
	}
}

func TestRankInterventions(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	raw, err := server.rankInterventions(ctx, json.RawMessage(`{"risks": {"Cardiovascular": 42, "diabetes": 18}}`))
	require.NoError(t, err)
	options := raw.(*rankResult).Options

	require.Len(t, options, len(simulation.DefaultInterventions()))
	recommended := 0
	for i, option := range options {
		if i > 0 {
			assert.GreaterOrEqual(t, options[i-1].QValue, option.QValue)
		}
		if option.Recommended {
			recommended++
		}
	}
	assert.Equal(t, 3, recommended)

	for _, args := range []string{`{}`, `{"risks": {"gout": 10}}`, `{"risks": {"diabetes": 120}}`} {
		_, err := server.rankInterventions(ctx, json.RawMessage(args))
		assert.ErrorIs(t, err, errInvalidParams, args)
	}
}

func TestAssessmentHistory_Validation(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	_, err := server.assessmentHistory(ctx, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errInvalidParams)

	_, err = server.assessmentHistory(ctx, json.RawMessage(`{"patient_id": "p-1", "limit": -1}`))
	assert.ErrorIs(t, err, errInvalidParams)

	raw, err := server.assessmentHistory(ctx, json.RawMessage(`{"patient_id": "nobody"}`))
	require.NoError(t, err)
	assert.Empty(t, raw.(*historyResult).Records)
}

func TestInvoke(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	t.Run("success is JSON text", func(t *testing.T) {
		result := server.invoke(ctx, "rank_interventions", server.rankInterventions, json.RawMessage(`{"risks": {"diabetes": 30}}`))
		require.False(t, result.IsError)
		require.Len(t, result.Content, 1)

		text, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		decoded := decodeResult[rankResult](t, json.RawMessage(text.Text))
		assert.NotEmpty(t, decoded.Options)
	})

	t.Run("missing arguments default to empty object", func(t *testing.T) {
		result := server.invoke(ctx, "assess_health_risk", server.assessHealthRisk, nil)
		assert.False(t, result.IsError)
	})

	t.Run("errors are reported in band", func(t *testing.T) {
		result := server.invoke(ctx, "simulate_trajectory", server.simulateTrajectory, json.RawMessage(`{}`))
		require.True(t, result.IsError)
		text := result.Content[0].(*mcp.TextContent).Text
		assert.Contains(t, text, "Error: invalid parameters")
		assert.Contains(t, text, "current or series is required")
	})
}
