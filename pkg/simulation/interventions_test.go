package simulation

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/health-risk-engine/pkg/riskmodel"
)

func TestRankInterventions_ExactlyThreeRecommended(t *testing.T) {
	risks := []map[riskmodel.Condition]float64{
		{riskmodel.ConditionCardiovascular: 61.4, riskmodel.ConditionDiabetes: 22},
		{riskmodel.ConditionCardiovascular: 5, riskmodel.ConditionDiabetes: 40},
		{riskmodel.ConditionDiabetes: 12},
		{},
	}

	for _, current := range risks {
		options := RankInterventions(current, DefaultInterventions())
		require.Len(t, options, 8)

		recommended := 0
		for _, o := range options {
			if o.Recommended {
				recommended++
			}
			assert.LessOrEqual(t, o.RiskReduction, maxRiskReduction)
		}
		assert.Equal(t, 3, recommended)

		qs := make([]float64, len(options))
		for i, o := range options {
			qs[i] = o.QValue
		}
		assert.True(t, sort.SliceIsSorted(qs, func(i, j int) bool { return qs[i] > qs[j] }))
		for _, o := range options[3:] {
			assert.LessOrEqual(t, o.QValue, options[2].QValue)
		}
	}
}

func TestRankInterventions_Formula(t *testing.T) {
	catalog := []Intervention{{
		Name:                "Test",
		BaseReward:          10,
		Conditions:          []riskmodel.Condition{riskmodel.ConditionCardiovascular},
		AdherenceDifficulty: 0.5,
		SideEffectRate:      0.1,
	}}

	options := RankInterventions(map[riskmodel.Condition]float64{riskmodel.ConditionCardiovascular: 50}, catalog)

	require.Len(t, options, 1)
	assert.InDelta(t, 12.5, options[0].QValue, 1e-9)
	assert.InDelta(t, 10*0.5*50.0/30, options[0].RiskReduction, 1e-9)
	assert.True(t, options[0].Recommended)
}

func TestRankInterventions_ReductionCapped(t *testing.T) {
	catalog := []Intervention{{Name: "Big", BaseReward: 100, Conditions: []riskmodel.Condition{riskmodel.ConditionDiabetes}}}

	options := RankInterventions(map[riskmodel.Condition]float64{riskmodel.ConditionDiabetes: 95}, catalog)

	assert.Equal(t, 35.0, options[0].RiskReduction)
}

func TestRankInterventions_FallsBackToOverallRisk(t *testing.T) {
	catalog := []Intervention{{Name: "Diet", BaseReward: 10, Conditions: []riskmodel.Condition{riskmodel.ConditionDiabetes}}}

	options := RankInterventions(map[riskmodel.Condition]float64{riskmodel.ConditionCardiovascular: 25}, catalog)

	// immediate = 10 * 25/50, future = 5 * 0.9
	assert.InDelta(t, 9.5, options[0].QValue, 1e-9)
}

func TestRankInterventions_TiesByName(t *testing.T) {
	catalog := []Intervention{
		{Name: "B", BaseReward: 5},
		{Name: "A", BaseReward: 5},
		{Name: "C", BaseReward: 5},
		{Name: "D", BaseReward: 5},
	}

	options := RankInterventions(map[riskmodel.Condition]float64{riskmodel.ConditionCardiovascular: 20}, catalog)

	names := []string{options[0].Name, options[1].Name, options[2].Name, options[3].Name}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)
	assert.False(t, options[3].Recommended)
}
