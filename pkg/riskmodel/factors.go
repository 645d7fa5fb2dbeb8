package riskmodel

import (
	"fmt"
	"sort"
)

// Qualitative impact labels.
const (
	ImpactHigh     = "high"
	ImpactModerate = "moderate"
	ImpactLow      = "low"
)

var impactRank = map[string]int{ImpactHigh: 0, ImpactModerate: 1, ImpactLow: 2}

type comparison int

const (
	atLeast comparison = iota
	above
	below
)

// factorRule is one tier of a threshold ladder. Ladders are listed most
// severe first; only the first matching tier of a feature is reported.
type factorRule struct {
	feature   Feature
	cmp       comparison
	threshold float64
	name      string
	impact    string
	describe  string
}

func (r factorRule) matches(v float64) bool {
	switch r.cmp {
	case atLeast:
		return v >= r.threshold
	case above:
		return v > r.threshold
	case below:
		return v < r.threshold
	}
	return false
}

func cardiovascularRules(t Thresholds) []factorRule {
	return []factorRule{
		{FeatureSystolicBP, atLeast, t.SystolicStage2, "Stage 2 Hypertension", ImpactHigh, "Systolic pressure of %.0f mmHg is in the stage 2 hypertension range"},
		{FeatureSystolicBP, atLeast, t.SystolicStage1, "Stage 1 Hypertension", ImpactModerate, "Systolic pressure of %.0f mmHg is in the stage 1 hypertension range"},
		{FeatureSystolicBP, atLeast, t.SystolicElevated, "Elevated Blood Pressure", ImpactLow, "Systolic pressure of %.0f mmHg is above the normal range"},
		{FeatureDiastolicBP, atLeast, t.DiastolicStage2, "Severe Diastolic Hypertension", ImpactHigh, "Diastolic pressure of %.0f mmHg is severely elevated"},
		{FeatureDiastolicBP, atLeast, t.DiastolicStage1, "Diastolic Hypertension", ImpactModerate, "Diastolic pressure of %.0f mmHg is elevated"},
		{FeatureAge, atLeast, t.AgeHigh, "Advanced Age", ImpactHigh, "Age %.0f carries substantially higher cardiovascular risk"},
		{FeatureAge, atLeast, t.AgeElevated, "Age-related Risk", ImpactModerate, "Age %.0f carries increased cardiovascular risk"},
		{FeatureSmoking, atLeast, 1, "Active Smoker", ImpactHigh, "Smoking damages blood vessels and raises blood pressure"},
		{FeatureBMI, atLeast, t.BMIObese, "Obesity", ImpactModerate, "BMI of %.1f is in the obese range"},
		{FeatureBMI, atLeast, t.BMIOverweight, "Overweight", ImpactLow, "BMI of %.1f is above the healthy range"},
		{FeatureHeartRate, above, t.HeartRateTachycardia, "Tachycardia", ImpactModerate, fmt.Sprintf("Resting heart rate of %%.0f bpm is above %.0f", t.HeartRateTachycardia)},
		{FeatureHeartRate, above, t.HeartRateElevated, "Elevated Resting Heart Rate", ImpactLow, "Resting heart rate of %.0f bpm is higher than ideal"},
		{FeatureBloodGlucose, atLeast, t.GlucoseDiabetes, "Diabetic-range Glucose", ImpactModerate, "Blood glucose of %.0f mg/dL adds vascular strain"},
		{FeatureBloodGlucose, atLeast, t.GlucosePrediabetes, "Elevated Glucose", ImpactLow, "Blood glucose of %.0f mg/dL is above the normal fasting range"},
		{FeatureOxygenSaturation, below, t.OxygenLow, "Low Oxygen Saturation", ImpactModerate, fmt.Sprintf("Oxygen saturation of %%.0f%%%% is below %.0f%%%%", t.OxygenLow)},
	}
}

func diabetesRules(t Thresholds) []factorRule {
	return []factorRule{
		{FeatureBloodGlucose, atLeast, t.GlucoseDiabetes, "Diabetic-range Fasting Glucose", ImpactHigh, "Blood glucose of %.0f mg/dL meets the diabetic threshold"},
		{FeatureBloodGlucose, atLeast, t.GlucosePrediabetes, "Prediabetes", ImpactModerate, "Blood glucose of %.0f mg/dL is in the prediabetic range"},
		{FeatureBMI, atLeast, t.BMIObese, "Obesity", ImpactHigh, "BMI of %.1f strongly increases insulin resistance"},
		{FeatureBMI, atLeast, t.BMIOverweight, "Overweight", ImpactModerate, "BMI of %.1f increases insulin resistance"},
		{FeatureAge, atLeast, t.AgeHigh, "Advanced Age", ImpactModerate, "Age %.0f increases diabetes risk"},
		{FeatureAge, atLeast, t.AgeElevated, "Age-related Risk", ImpactLow, "Age %.0f is associated with higher diabetes incidence"},
		{FeatureSmoking, atLeast, 1, "Active Smoker", ImpactModerate, "Smoking impairs glucose regulation"},
		{FeatureSystolicBP, atLeast, t.SystolicStage1, "Hypertension", ImpactLow, "Systolic pressure of %.0f mmHg often accompanies metabolic syndrome"},
	}
}

func rulesFor(condition Condition, t Thresholds) []factorRule {
	switch condition {
	case ConditionCardiovascular:
		return cardiovascularRules(t)
	case ConditionDiabetes:
		return diabetesRules(t)
	default:
		return nil
	}
}

// RiskFactors lists the qualitative findings for a condition, most severe
// first. A feature whose weight lowers risk when it rises is never flagged
// for being high.
func RiskFactors(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) []RiskFactor {
	factors := make([]RiskFactor, 0)
	reported := make(map[Feature]bool)

	for _, rule := range rulesFor(model.Condition, cfg.Thresholds) {
		if reported[rule.feature] {
			continue
		}
		if w, ok := model.Weights.Get(rule.feature); ok && w < 0 && rule.cmp != below {
			continue
		}
		v := features.Value(rule.feature)
		if !rule.matches(v) {
			continue
		}
		reported[rule.feature] = true

		factor := RiskFactor{
			Name:        rule.name,
			Impact:      rule.impact,
			Description: rule.describe,
		}
		if rule.feature != FeatureSmoking {
			value := v
			factor.Value = &value
			factor.Description = fmt.Sprintf(rule.describe, v)
		}
		factors = append(factors, factor)
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return impactRank[factors[i].Impact] < impactRank[factors[j].Impact]
	})
	return factors
}
