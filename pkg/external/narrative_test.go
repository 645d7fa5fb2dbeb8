package external

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-risk-engine/pkg/riskmodel"
)

func elderlySummary(t *testing.T) NarrativeSummary {
	t.Helper()
	cfg := riskmodel.DefaultModelConfig()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dob := time.Date(1956, 6, 1, 0, 0, 0, 0, time.UTC)
	height, weight := 170.0, 95.0
	sys, dia, hr, glucose := 165.0, 95.0, 88.0, 110.0

	features := riskmodel.BuildFeaturesAt(now, cfg,
		&riskmodel.Profile{DateOfBirth: &dob, HeightCm: &height, WeightKg: &weight},
		&riskmodel.VitalSigns{SystolicBP: &sys, DiastolicBP: &dia, HeartRate: &hr, BloodGlucose: &glucose})

	return Summarize(cfg, riskmodel.Explain(cfg, features))
}

func TestSummarize(t *testing.T) {
	summary := elderlySummary(t)

	require.Len(t, summary.Conditions, 2)
	cv := summary.Conditions[0]
	assert.Equal(t, riskmodel.ConditionCardiovascular, cv.Condition)
	assert.NotEqual(t, string(cv.Condition), cv.DisplayName)
	assert.Len(t, cv.TopFactors, 3)
	assert.LessOrEqual(t, len(cv.TopCounterfactuals), 2)
	assert.Equal(t, "Age", cv.TopFactors[0].Label)
}

func TestBuildPrompt(t *testing.T) {
	summary := elderlySummary(t)

	prompt := BuildPrompt(summary)
	assert.Equal(t, prompt, BuildPrompt(summary), "prompt must be deterministic")

	for _, c := range summary.Conditions {
		assert.Contains(t, prompt, c.DisplayName)
		for _, f := range c.TopFactors {
			assert.Contains(t, prompt, f.Label)
		}
		for _, cf := range c.TopCounterfactuals {
			assert.Contains(t, prompt, cf.Scenario)
		}
	}
	assert.Contains(t, prompt, "Estimated risk: 61.")
}

func TestFallbackNarrative(t *testing.T) {
	t.Run("empty summary", func(t *testing.T) {
		assert.Equal(t, "No risk estimates are available yet.", FallbackNarrative(NarrativeSummary{}))
	})

	t.Run("mentions every condition", func(t *testing.T) {
		summary := elderlySummary(t)
		text := FallbackNarrative(summary)

		paragraphs := strings.Split(text, "\n\n")
		require.Len(t, paragraphs, len(summary.Conditions)+1)
		for i, c := range summary.Conditions {
			assert.Contains(t, paragraphs[i], strings.ToLower(c.DisplayName))
			assert.Contains(t, paragraphs[i], c.RiskLevel.String())
		}
		assert.Contains(t, text, "do not replace advice from your doctor")
	})

	t.Run("no counterfactuals", func(t *testing.T) {
		summary := NarrativeSummary{Conditions: []ConditionSummary{{
			DisplayName:    "Type 2 Diabetes",
			RiskPercentage: 3.2,
			RiskLevel:      riskmodel.RiskLow,
			TopFactors:     []FactorSummary{{Label: "BMI", Importance: -0.4}},
		}}}
		text := FallbackNarrative(summary)
		assert.Contains(t, text, "3.2%")
		assert.Contains(t, text, "bmi (takes off 0.4 points)")
		assert.Contains(t, text, "already close to the targets")
	})
}

func TestJoinList(t *testing.T) {
	assert.Equal(t, "", joinList(nil))
	assert.Equal(t, "a", joinList([]string{"a"}))
	assert.Equal(t, "a and b", joinList([]string{"a", "b"}))
	assert.Equal(t, "a, b and c", joinList([]string{"a", "b", "c"}))
}
