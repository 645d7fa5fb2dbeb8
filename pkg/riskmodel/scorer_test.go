package riskmodel

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// elderlyHypertensive is a 70 year old, 170 cm, 95 kg non-smoker with stage 2
// hypertension.
func elderlyHypertensive(t *testing.T, cfg *ModelConfig) PatientFeatures {
	t.Helper()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1956, 6, 1, 0, 0, 0, 0, time.UTC)
	return BuildFeaturesAt(now, cfg,
		&Profile{DateOfBirth: &dob, HeightCm: ptr(170.0), WeightKg: ptr(95.0)},
		&VitalSigns{
			SystolicBP:   ptr(165.0),
			DiastolicBP:  ptr(95.0),
			HeartRate:    ptr(88.0),
			BloodGlucose: ptr(110.0),
		})
}

func mustModel(t *testing.T, cfg *ModelConfig, c Condition) *ConditionModel {
	t.Helper()
	m, ok := cfg.Model(c)
	require.True(t, ok, "missing model for %s", c)
	return m
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		pct      float64
		expected RiskLevel
	}{
		{1, RiskLow},
		{9.99, RiskLow},
		{10, RiskModerate},
		{19.9, RiskModerate},
		{20, RiskHigh},
		{29.99, RiskHigh},
		{30, RiskVeryHigh},
		{95, RiskVeryHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFor(tt.pct), "pct %v", tt.pct)
	}
}

func TestRiskLevel_JSON(t *testing.T) {
	b, err := json.Marshal(RiskVeryHigh)
	require.NoError(t, err)
	assert.Equal(t, `"very-high"`, string(b))

	var l RiskLevel
	require.NoError(t, json.Unmarshal([]byte(`"moderate"`), &l))
	assert.Equal(t, RiskModerate, l)
	assert.Error(t, json.Unmarshal([]byte(`"severe"`), &l))
}

func TestScore_BaselineAtPopulationMeans(t *testing.T) {
	cfg := DefaultModelConfig()
	features := BuildFeaturesAt(time.Now(), cfg, nil, nil)

	for _, c := range []Condition{ConditionCardiovascular, ConditionDiabetes} {
		t.Run(string(c), func(t *testing.T) {
			m := mustModel(t, cfg, c)
			want := 100 / (1 + math.Exp(-m.BaseLogOdds))
			got := ScoreCondition(cfg, m, features)
			assert.InDelta(t, want, got, 1e-12)
			assert.Equal(t, BaselineRisk(m), got)
		})
	}
}

func TestScore_ClampedUnderExtremes(t *testing.T) {
	cfg := DefaultModelConfig()
	base := PopulationFeatures(cfg)

	tests := []struct {
		name     string
		features PatientFeatures
		expected float64
	}{
		{"huge systolic", base.With(FeatureSystolicBP, 1_000_000), maxRiskPercentage},
		{"negative systolic", base.With(FeatureSystolicBP, -1_000_000), minRiskPercentage},
		{"max float age", base.With(FeatureAge, math.MaxFloat64), maxRiskPercentage},
		{"min float age", base.With(FeatureAge, -math.MaxFloat64), minRiskPercentage},
		{"opposing extremes", base.With(FeatureAge, math.MaxFloat64).With(FeatureBMI, -math.MaxFloat64), math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range cfg.Conditions {
				m := &cfg.Conditions[i]
				got := ScoreCondition(cfg, m, tt.features)
				assert.GreaterOrEqual(t, got, minRiskPercentage)
				assert.LessOrEqual(t, got, maxRiskPercentage)
				if !math.IsNaN(tt.expected) {
					assert.Equal(t, tt.expected, got)
				}

				res := AssessRisk(cfg, m, tt.features)
				_, err := json.Marshal(res)
				assert.NoError(t, err, "result must stay encodable")
			}
		})
	}
}

func TestScore_NonFiniteLogit(t *testing.T) {
	assert.Equal(t, minRiskPercentage, percentage(math.NaN()))
	assert.Equal(t, minRiskPercentage, percentage(math.Inf(-1)))
	assert.Equal(t, maxRiskPercentage, percentage(math.Inf(1)))
}

func TestScore_Idempotent(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)
	m := mustModel(t, cfg, ConditionCardiovascular)

	first := ScoreCondition(cfg, m, features)
	for i := 0; i < 100; i++ {
		assert.Equal(t, math.Float64bits(first), math.Float64bits(ScoreCondition(cfg, m, features)))
	}
	assert.Equal(t, AssessRisk(cfg, m, features), AssessRisk(cfg, m, features))
}

func TestScore_SystolicMonotonic(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)
	m := mustModel(t, cfg, ConditionCardiovascular)

	prev := ScoreCondition(cfg, m, features.With(FeatureSystolicBP, 0))
	for sys := 1.0; sys <= 400; sys++ {
		cur := ScoreCondition(cfg, m, features.With(FeatureSystolicBP, sys))
		require.GreaterOrEqual(t, cur, prev, "risk dropped at systolic %v", sys)
		prev = cur
	}
}

func TestAssessRisk_ElderlyHypertensive(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)

	cv := AssessRisk(cfg, mustModel(t, cfg, ConditionCardiovascular), features)
	assert.Contains(t, []RiskLevel{RiskHigh, RiskVeryHigh}, cv.RiskLevel)
	assert.InDelta(t, 61.4, cv.RiskPercentage, 0.1)
	assert.Equal(t, 0.85, cv.Confidence)
	assert.NotEmpty(t, cv.Recommendations)

	names := make([]string, 0, len(cv.Factors))
	for _, f := range cv.Factors {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"Stage 2 Hypertension",
		"Advanced Age",
		"Diastolic Hypertension",
		"Obesity",
		"Elevated Resting Heart Rate",
		"Elevated Glucose",
	}, names)
	require.NotNil(t, cv.Factors[0].Value)
	assert.Equal(t, 165.0, *cv.Factors[0].Value)
	assert.Contains(t, cv.Factors[0].Description, "165 mmHg")

	dm := AssessRisk(cfg, mustModel(t, cfg, ConditionDiabetes), features)
	assert.Equal(t, 0.82, dm.Confidence)
	require.NotEmpty(t, dm.Factors)
	assert.Equal(t, "Obesity", dm.Factors[0].Name)
	assert.Equal(t, ImpactHigh, dm.Factors[0].Impact)
}

func TestAssessRisk_RecommendationsAreCopied(t *testing.T) {
	cfg := DefaultModelConfig()
	m := mustModel(t, cfg, ConditionDiabetes)

	res := AssessRisk(cfg, m, PopulationFeatures(cfg))
	res.Recommendations[0] = "changed"

	assert.NotEqual(t, "changed", m.Recommendations[0])
}

func healthyAdult(cfg *ModelConfig) PatientFeatures {
	return PopulationFeatures(cfg).With(FeatureBMI, 22).With(FeatureBloodGlucose, 90)
}

func TestRiskFactors_HealthyAdult(t *testing.T) {
	cfg := DefaultModelConfig()
	for i := range cfg.Conditions {
		assert.Empty(t, RiskFactors(cfg, &cfg.Conditions[i], healthyAdult(cfg)))
	}
}

func TestRiskFactors_Smoker(t *testing.T) {
	cfg := DefaultModelConfig()
	features := healthyAdult(cfg).With(FeatureSmoking, 1)

	factors := RiskFactors(cfg, mustModel(t, cfg, ConditionCardiovascular), features)
	require.Len(t, factors, 1)
	assert.Equal(t, "Active Smoker", factors[0].Name)
	assert.Nil(t, factors[0].Value)
}

func TestRiskFactors_LowOxygen(t *testing.T) {
	cfg := DefaultModelConfig()
	features := healthyAdult(cfg).With(FeatureOxygenSaturation, 91)

	factors := RiskFactors(cfg, mustModel(t, cfg, ConditionCardiovascular), features)
	require.Len(t, factors, 1)
	assert.Equal(t, "Oxygen saturation of 91% is below 95%", factors[0].Description)
}

func TestRiskFactors_DescriptionsFollowThresholds(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Thresholds.HeartRateTachycardia = 110
	cfg.Thresholds.OxygenLow = 92
	features := healthyAdult(cfg).
		With(FeatureHeartRate, 115).
		With(FeatureOxygenSaturation, 90)

	factors := RiskFactors(cfg, mustModel(t, cfg, ConditionCardiovascular), features)

	descriptions := make([]string, 0, len(factors))
	for _, f := range factors {
		descriptions = append(descriptions, f.Description)
	}
	assert.Contains(t, descriptions, "Resting heart rate of 115 bpm is above 110")
	assert.Contains(t, descriptions, "Oxygen saturation of 90% is below 92%")
}
