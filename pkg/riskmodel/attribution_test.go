package riskmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureImportances_ZeroAtPopulationMeans(t *testing.T) {
	cfg := DefaultModelConfig()
	features := PopulationFeatures(cfg)

	for i := range cfg.Conditions {
		m := &cfg.Conditions[i]
		imps := FeatureImportances(cfg, m, features)
		require.Len(t, imps, len(m.Weights))
		for _, imp := range imps {
			assert.InDelta(t, 0, imp.Importance, 1e-12, "%s/%s", m.Condition, imp.Feature)
			assert.Equal(t, DecreasesRisk, imp.Direction)
		}
	}
}

func TestFeatureImportances_FeatureAtMeanInsideSkewedVector(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg).With(FeatureSystolicBP, cfg.Mean(FeatureSystolicBP))
	m := mustModel(t, cfg, ConditionCardiovascular)

	for _, imp := range FeatureImportances(cfg, m, features) {
		if imp.Feature == FeatureSystolicBP {
			assert.InDelta(t, 0, imp.Importance, 1e-12)
			return
		}
	}
	t.Fatal("systolic importance missing")
}

func TestFeatureImportances_ElderlyHypertensive(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)
	m := mustModel(t, cfg, ConditionCardiovascular)

	imps := FeatureImportances(cfg, m, features)

	order := make([]Feature, 0, len(imps))
	for _, imp := range imps {
		order = append(order, imp.Feature)
	}
	assert.Equal(t, []Feature{
		FeatureAge,
		FeatureSystolicBP,
		FeatureBMI,
		FeatureHeartRate,
		FeatureDiastolicBP,
		FeatureBloodGlucose,
		FeatureSmoking,
	}, order)

	for i := 1; i < len(imps); i++ {
		assert.GreaterOrEqual(t, math.Abs(imps[i-1].Importance), math.Abs(imps[i].Importance))
	}

	age := imps[0]
	assert.Equal(t, IncreasesRisk, age.Direction)
	assert.InDelta(t, 30.1, age.Importance, 0.1)
	assert.Equal(t, 70.0, age.CurrentValue)
	assert.InDelta(t, 62.5, age.OptimalValue, 1e-9)

	sys := imps[1]
	assert.InDelta(t, 151.5, sys.OptimalValue, 1e-9)

	smoking := imps[6]
	assert.Equal(t, 0.0, smoking.Importance)
	assert.Equal(t, 0.0, smoking.OptimalValue)
}

func TestOptimalValue(t *testing.T) {
	tests := []struct {
		name     string
		feature  Feature
		weight   float64
		current  float64
		mean     float64
		expected float64
	}{
		{"positive weight above mean", FeatureBMI, 0.04, 36.5, 26.5, 33.5},
		{"positive weight below mean", FeatureBMI, 0.04, 16.5, 26.5, 13.5},
		{"negative weight", FeatureOxygenSaturation, -0.1, 90, 98, 92.4},
		{"smoker", FeatureSmoking, 0.7, 1, 0, 0},
		{"smoking protective", FeatureSmoking, -0.2, 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, optimalValue(tt.feature, tt.weight, tt.current, tt.mean, 0.3), 1e-9)
		})
	}
}

func TestSensitivityCurves(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)

	cv := SensitivityCurves(cfg, mustModel(t, cfg, ConditionCardiovascular), features)
	assert.Len(t, cv, 5)
	require.Len(t, cv[FeatureBMI], 23)
	assert.Equal(t, 18.0, cv[FeatureBMI][0].Value)
	assert.Equal(t, 40.0, cv[FeatureBMI][22].Value)
	require.Len(t, cv[FeatureSystolicBP], 19)
	assert.Len(t, cv[FeatureBloodGlucose], 14)

	for i := 1; i < len(cv[FeatureSystolicBP]); i++ {
		assert.GreaterOrEqual(t, cv[FeatureSystolicBP][i].Risk, cv[FeatureSystolicBP][i-1].Risk)
	}

	dm := SensitivityCurves(cfg, mustModel(t, cfg, ConditionDiabetes), features)
	assert.Len(t, dm, 4)
	assert.NotContains(t, dm, FeatureDiastolicBP)
}

func TestCounterfactuals_ElderlyHypertensive(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)
	m := mustModel(t, cfg, ConditionCardiovascular)

	cfs := Counterfactuals(cfg, m, features)
	require.NotEmpty(t, cfs)

	first := cfs[0]
	assert.Equal(t, FeatureSystolicBP, first.Feature)
	assert.Greater(t, first.RiskReduction, 0.0)
	assert.InDelta(t, 22.1, first.RiskReduction, 0.1)
	assert.Equal(t, "165 mmHg", first.CurrentValue)
	assert.Equal(t, "120 mmHg", first.TargetValue)
	assert.Equal(t, first.CurrentRisk-first.NewRisk, first.RiskReduction)

	for _, cf := range cfs {
		assert.NotEqual(t, FeatureSmoking, cf.Feature, "already at target")
	}
	for i := 1; i < len(cfs); i++ {
		assert.GreaterOrEqual(t, cfs[i-1].RiskReduction, cfs[i].RiskReduction)
	}
}

func TestCounterfactuals_Filter(t *testing.T) {
	cfg := DefaultModelConfig()

	vectors := map[string]PatientFeatures{
		"population": PopulationFeatures(cfg),
		"healthy":    healthyAdult(cfg),
		"glucose96":  healthyAdult(cfg).With(FeatureBloodGlucose, 96),
		"smoker":     healthyAdult(cfg).With(FeatureSmoking, 1),
	}

	for name, features := range vectors {
		for i := range cfg.Conditions {
			m := &cfg.Conditions[i]
			for _, cf := range Counterfactuals(cfg, m, features) {
				assert.Greater(t, math.Abs(cf.RiskReduction), cfg.MinCounterfactualDelta, "%s/%s/%s", name, m.Condition, cf.Feature)
				assert.True(t, m.Weights.Has(cf.Feature))
			}
		}
	}

	near := Counterfactuals(cfg, mustModel(t, cfg, ConditionCardiovascular), vectors["glucose96"])
	for _, cf := range near {
		assert.NotEqual(t, FeatureBloodGlucose, cf.Feature)
	}

	smoker := Counterfactuals(cfg, mustModel(t, cfg, ConditionCardiovascular), vectors["smoker"])
	require.NotEmpty(t, smoker)
	assert.Equal(t, "Smoker", smoker[0].CurrentValue)
	assert.Equal(t, "Non-smoker", smoker[0].TargetValue)
}

func TestWaterfall_ModelMode(t *testing.T) {
	cfg := DefaultModelConfig()
	features := elderlyHypertensive(t, cfg)

	for i := range cfg.Conditions {
		m := &cfg.Conditions[i]
		t.Run(string(m.Condition), func(t *testing.T) {
			risk := ScoreCondition(cfg, m, features)
			imps := FeatureImportances(cfg, m, features)
			points := Waterfall(cfg, m, imps, risk)

			require.GreaterOrEqual(t, len(points), 2+cfg.WaterfallSteps)
			assert.Equal(t, WaterfallBaseline, points[0].Kind)
			assert.Equal(t, BaselineRisk(m), points[0].Cumulative)

			factors := points[1 : 1+cfg.WaterfallSteps]
			for j, p := range factors {
				assert.Equal(t, WaterfallFactor, p.Kind)
				assert.Equal(t, imps[j].Importance, p.Value)
				if j > 0 {
					assert.GreaterOrEqual(t, math.Abs(factors[j-1].Value), math.Abs(p.Value))
				}
			}

			last := points[len(points)-1]
			assert.Equal(t, WaterfallTotal, last.Kind)
			assert.Equal(t, risk, last.Cumulative)
		})
	}
}

func TestWaterfall_LegacyMode(t *testing.T) {
	cfg := DefaultModelConfig().WithWaterfallMode(WaterfallLegacy)
	features := elderlyHypertensive(t, cfg)
	m := mustModel(t, cfg, ConditionCardiovascular)

	risk := ScoreCondition(cfg, m, features)
	imps := FeatureImportances(cfg, m, features)
	points := Waterfall(cfg, m, imps, risk)

	require.Len(t, points, 1+cfg.WaterfallSteps)
	assert.Equal(t, 7.5, points[0].Value)

	cumulative := 7.5
	for _, p := range points[1:] {
		cumulative += p.Value
		assert.Equal(t, cumulative, p.Cumulative)
		assert.Equal(t, WaterfallFactor, p.Kind)
	}

	dm := mustModel(t, cfg, ConditionDiabetes)
	assert.Equal(t, 8.0, Waterfall(cfg, dm, nil, 10)[0].Value)
}

func TestWaterfall_NoResidualAtBaseline(t *testing.T) {
	cfg := DefaultModelConfig()
	features := PopulationFeatures(cfg)
	m := mustModel(t, cfg, ConditionDiabetes)

	risk := ScoreCondition(cfg, m, features)
	points := Waterfall(cfg, m, FeatureImportances(cfg, m, features), risk)

	for _, p := range points {
		assert.NotEqual(t, WaterfallResidual, p.Kind)
	}
	assert.Equal(t, risk, points[len(points)-1].Cumulative)
}

func TestParseWaterfallMode(t *testing.T) {
	mode, err := ParseWaterfallMode("")
	require.NoError(t, err)
	assert.Equal(t, WaterfallModel, mode)

	mode, err = ParseWaterfallMode("legacy")
	require.NoError(t, err)
	assert.Equal(t, WaterfallLegacy, mode)

	_, err = ParseWaterfallMode("fancy")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	cfg := DefaultModelConfig()
	out := Explain(cfg, elderlyHypertensive(t, cfg))

	require.Len(t, out, 2)
	assert.Equal(t, ConditionCardiovascular, out[0].Risk.Condition)
	assert.Equal(t, ConditionDiabetes, out[1].Risk.Condition)
	for _, e := range out {
		assert.NotEmpty(t, e.Importances)
		assert.NotEmpty(t, e.Sensitivity)
		assert.Equal(t, e.Risk.RiskPercentage, e.Waterfall[len(e.Waterfall)-1].Cumulative)
	}
}

func TestGlobalImportanceTable(t *testing.T) {
	table := GlobalImportanceTable(DefaultModelConfig())

	require.Len(t, table[ConditionCardiovascular], 7)
	assert.Equal(t, FeatureAge, table[ConditionCardiovascular][0].Feature)
	assert.Equal(t, FeatureBloodGlucose, table[ConditionDiabetes][0].Feature)
	assert.Equal(t, "Blood glucose", table[ConditionDiabetes][0].Label)
}
