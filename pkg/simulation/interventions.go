package simulation

import (
	"math"
	"sort"

	"github.com/health-risk-engine/pkg/riskmodel"
)

const (
	discountFactor     = 0.9
	sideEffectPenalty  = 20.0
	maxRiskReduction   = 35.0
	recommendedCount   = 3
	rewardRiskPivot    = 50.0
	reductionRiskPivot = 30.0
)

// Intervention is one entry of the lifestyle intervention catalog.
type Intervention struct {
	Name                string
	ExpectedOutcome     string
	BaseReward          float64
	Conditions          []riskmodel.Condition
	AdherenceDifficulty float64
	SideEffectRate      float64
}

// TreatmentOption is a scored intervention.
type TreatmentOption struct {
	Name                string                `json:"name"`
	Conditions          []riskmodel.Condition `json:"conditions"`
	ExpectedOutcome     string                `json:"expected_outcome"`
	RiskReduction       float64               `json:"risk_reduction"`
	AdherenceDifficulty float64               `json:"adherence_difficulty"`
	SideEffectRisk      float64               `json:"side_effect_risk"`
	QValue              float64               `json:"q_value"`
	Recommended         bool                  `json:"recommended"`
}

// DefaultInterventions returns the built-in catalog.
func DefaultInterventions() []Intervention {
	cv := riskmodel.ConditionCardiovascular
	dm := riskmodel.ConditionDiabetes

	return []Intervention{
		{
			Name:                "Daily brisk walking",
			ExpectedOutcome:     "30 minutes a day lowers blood pressure and improves insulin sensitivity",
			BaseReward:          12,
			Conditions:          []riskmodel.Condition{cv, dm},
			AdherenceDifficulty: 0.3,
			SideEffectRate:      0.02,
		},
		{
			Name:                "Mediterranean diet",
			ExpectedOutcome:     "Improves lipid profile and glucose control",
			BaseReward:          10,
			Conditions:          []riskmodel.Condition{cv, dm},
			AdherenceDifficulty: 0.4,
			SideEffectRate:      0.01,
		},
		{
			Name:                "Sodium reduction",
			ExpectedOutcome:     "Lowers systolic pressure by 5 to 6 mmHg on average",
			BaseReward:          8,
			Conditions:          []riskmodel.Condition{cv},
			AdherenceDifficulty: 0.35,
			SideEffectRate:      0.01,
		},
		{
			Name:                "Smoking cessation program",
			ExpectedOutcome:     "Halves excess cardiovascular risk within a year of quitting",
			BaseReward:          18,
			Conditions:          []riskmodel.Condition{cv, dm},
			AdherenceDifficulty: 0.7,
			SideEffectRate:      0.05,
		},
		{
			Name:                "Structured weight loss",
			ExpectedOutcome:     "A 5 to 10 percent weight loss reduces diabetes incidence",
			BaseReward:          14,
			Conditions:          []riskmodel.Condition{dm, cv},
			AdherenceDifficulty: 0.6,
			SideEffectRate:      0.03,
		},
		{
			Name:                "Antihypertensive medication adherence",
			ExpectedOutcome:     "Keeps blood pressure within target range",
			BaseReward:          15,
			Conditions:          []riskmodel.Condition{cv},
			AdherenceDifficulty: 0.2,
			SideEffectRate:      0.15,
		},
		{
			Name:                "Low glycemic index diet",
			ExpectedOutcome:     "Flattens post-meal glucose spikes",
			BaseReward:          11,
			Conditions:          []riskmodel.Condition{dm},
			AdherenceDifficulty: 0.45,
			SideEffectRate:      0.01,
		},
		{
			Name:                "Stress management and sleep hygiene",
			ExpectedOutcome:     "Lowers resting heart rate and evening blood pressure",
			BaseReward:          6,
			Conditions:          []riskmodel.Condition{cv},
			AdherenceDifficulty: 0.25,
			SideEffectRate:      0,
		},
	}
}

// RankInterventions scores every catalog entry with a one-step expected value
// and marks the three best as recommended. currentRisk maps a condition to its
// risk percentage. Each intervention is judged against the mean risk of the
// conditions it targets; when none of them is present, the mean over all
// supplied conditions is used instead.
func RankInterventions(currentRisk map[riskmodel.Condition]float64, catalog []Intervention) []TreatmentOption {
	overall := overallRisk(currentRisk)
	options := make([]TreatmentOption, 0, len(catalog))

	for _, in := range catalog {
		avgRisk := targetRisk(currentRisk, in.Conditions, overall)

		immediate := in.BaseReward * (avgRisk / rewardRiskPivot)
		future := immediate * discountFactor * (1 - in.AdherenceDifficulty)
		q := immediate + future - in.SideEffectRate*sideEffectPenalty
		reduction := math.Min(maxRiskReduction, in.BaseReward*(1-in.AdherenceDifficulty)*(avgRisk/reductionRiskPivot))

		conditions := make([]riskmodel.Condition, len(in.Conditions))
		copy(conditions, in.Conditions)

		options = append(options, TreatmentOption{
			Name:                in.Name,
			Conditions:          conditions,
			ExpectedOutcome:     in.ExpectedOutcome,
			RiskReduction:       reduction,
			AdherenceDifficulty: in.AdherenceDifficulty,
			SideEffectRisk:      in.SideEffectRate,
			QValue:              q,
		})
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].QValue != options[j].QValue {
			return options[i].QValue > options[j].QValue
		}
		return options[i].Name < options[j].Name
	})
	for i := range options {
		options[i].Recommended = i < recommendedCount
	}
	return options
}

func overallRisk(current map[riskmodel.Condition]float64) float64 {
	if len(current) == 0 {
		return 0
	}
	keys := make([]riskmodel.Condition, 0, len(current))
	for c := range current {
		keys = append(keys, c)
	}
	// Fixed summation order keeps the result bit-reproducible.
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sum := 0.0
	for _, c := range keys {
		sum += current[c]
	}
	return sum / float64(len(keys))
}

func targetRisk(current map[riskmodel.Condition]float64, targets []riskmodel.Condition, fallback float64) float64 {
	sum, n := 0.0, 0
	for _, c := range targets {
		if v, ok := current[c]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}
