// Package riskmodel implements the deterministic disease-risk model: feature
// construction, log-odds scoring, qualitative risk factors and the
// attribution methods (permutation importance, sensitivity sweeps,
// counterfactuals and waterfall decomposition) built on top of it.
//
// Every function in this package is pure. Reference data is carried in an
// immutable ModelConfig that callers construct once and pass explicitly.
package riskmodel

import "fmt"

// Feature names a single model input.
type Feature string

const (
	FeatureAge              Feature = "age"
	FeatureBMI              Feature = "bmi"
	FeatureSystolicBP       Feature = "systolic_bp"
	FeatureDiastolicBP      Feature = "diastolic_bp"
	FeatureHeartRate        Feature = "heart_rate"
	FeatureBloodGlucose     Feature = "blood_glucose"
	FeatureWeight           Feature = "weight"
	FeatureHeight           Feature = "height"
	FeatureSmoking          Feature = "smoking"
	FeatureOxygenSaturation Feature = "oxygen_saturation"
)

// AllFeatures lists the numeric features in canonical order.
var AllFeatures = []Feature{
	FeatureAge,
	FeatureBMI,
	FeatureSystolicBP,
	FeatureDiastolicBP,
	FeatureHeartRate,
	FeatureBloodGlucose,
	FeatureWeight,
	FeatureHeight,
	FeatureSmoking,
	FeatureOxygenSaturation,
}

// ParseFeature resolves a wire name to a Feature.
func ParseFeature(name string) (Feature, bool) {
	for _, f := range AllFeatures {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// Label returns a human readable name for the feature.
func (f Feature) Label() string {
	switch f {
	case FeatureAge:
		return "Age"
	case FeatureBMI:
		return "BMI"
	case FeatureSystolicBP:
		return "Systolic blood pressure"
	case FeatureDiastolicBP:
		return "Diastolic blood pressure"
	case FeatureHeartRate:
		return "Heart rate"
	case FeatureBloodGlucose:
		return "Blood glucose"
	case FeatureWeight:
		return "Weight"
	case FeatureHeight:
		return "Height"
	case FeatureSmoking:
		return "Smoking"
	case FeatureOxygenSaturation:
		return "Oxygen saturation"
	default:
		return string(f)
	}
}

// Unit returns the display unit for the feature, empty when unitless.
func (f Feature) Unit() string {
	switch f {
	case FeatureAge:
		return "years"
	case FeatureBMI:
		return "kg/m²"
	case FeatureSystolicBP, FeatureDiastolicBP:
		return "mmHg"
	case FeatureHeartRate:
		return "bpm"
	case FeatureBloodGlucose:
		return "mg/dL"
	case FeatureWeight:
		return "kg"
	case FeatureHeight:
		return "cm"
	case FeatureOxygenSaturation:
		return "%"
	default:
		return ""
	}
}

// Condition identifies a scored disease.
type Condition string

const (
	ConditionCardiovascular Condition = "cardiovascular"
	ConditionDiabetes       Condition = "diabetes"
)

// Weight is a single signed coefficient of a condition model.
type Weight struct {
	Feature Feature `json:"feature"`
	Value   float64 `json:"weight"`
}

// Weights is an ordered coefficient vector. Order is fixed so that the
// floating point summation, and therefore the score, is bit-reproducible.
type Weights []Weight

// Has reports whether the feature carries a coefficient.
func (w Weights) Has(f Feature) bool {
	_, ok := w.Get(f)
	return ok
}

// Get returns the coefficient for a feature.
func (w Weights) Get(f Feature) (float64, bool) {
	for _, entry := range w {
		if entry.Feature == f {
			return entry.Value, true
		}
	}
	return 0, false
}

// Thresholds holds the clinical cut points used for qualitative factors.
type Thresholds struct {
	SystolicElevated     float64
	SystolicStage1       float64
	SystolicStage2       float64
	DiastolicStage1      float64
	DiastolicStage2      float64
	BMIOverweight        float64
	BMIObese             float64
	GlucosePrediabetes   float64
	GlucoseDiabetes      float64
	HeartRateElevated    float64
	HeartRateTachycardia float64
	OxygenLow            float64
	AgeElevated          float64
	AgeHigh              float64
}

// ConditionModel is the calibrated model for one condition.
type ConditionModel struct {
	Condition       Condition
	DisplayName     string
	BaseLogOdds     float64
	Weights         Weights
	Confidence      float64
	Recommendations []string
	// LegacyWaterfallBaseline is the literal display baseline used by the
	// legacy waterfall mode.
	LegacyWaterfallBaseline float64
}

// SensitivityRange is the clinically bounded sweep for one feature.
type SensitivityRange struct {
	Feature Feature
	Min     float64
	Max     float64
	Step    float64
}

// CounterfactualTarget is a single-feature what-if scenario.
type CounterfactualTarget struct {
	Name    string
	Feature Feature
	Target  float64
}

// WaterfallMode selects how the waterfall baseline is obtained.
type WaterfallMode string

const (
	// WaterfallModel starts from the model's own baseline risk and closes
	// with a residual step so the final point equals the scored risk.
	WaterfallModel WaterfallMode = "model"
	// WaterfallLegacy starts from the literal per-condition constant and
	// has no residual step. Display-only approximation.
	WaterfallLegacy WaterfallMode = "legacy"
)

// ParseWaterfallMode validates a configured mode, defaulting to model.
func ParseWaterfallMode(s string) (WaterfallMode, error) {
	switch WaterfallMode(s) {
	case "", WaterfallModel:
		return WaterfallModel, nil
	case WaterfallLegacy:
		return WaterfallLegacy, nil
	default:
		return "", fmt.Errorf("unknown waterfall mode %q", s)
	}
}

// ModelConfig bundles all reference data. Treat as immutable once built.
type ModelConfig struct {
	PopulationMeans        map[Feature]float64
	Thresholds             Thresholds
	Conditions             []ConditionModel
	Sensitivity            []SensitivityRange
	Counterfactuals        []CounterfactualTarget
	GlobalImportance       map[Condition]map[Feature]float64
	OptimalRatio           float64
	MinCounterfactualDelta float64
	WaterfallSteps         int
	WaterfallMode          WaterfallMode
}

// Mean returns the population mean for a feature.
func (c *ModelConfig) Mean(f Feature) float64 {
	return c.PopulationMeans[f]
}

// Model returns the model for a condition.
func (c *ModelConfig) Model(condition Condition) (*ConditionModel, bool) {
	for i := range c.Conditions {
		if c.Conditions[i].Condition == condition {
			return &c.Conditions[i], true
		}
	}
	return nil, false
}

// WithWaterfallMode returns a copy of the config using the given mode.
func (c *ModelConfig) WithWaterfallMode(mode WaterfallMode) *ModelConfig {
	cp := *c
	cp.WaterfallMode = mode
	return &cp
}

// DefaultModelConfig returns the calibrated reference tables.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		PopulationMeans: map[Feature]float64{
			FeatureAge:              45,
			FeatureBMI:              26.5,
			FeatureSystolicBP:       120,
			FeatureDiastolicBP:      80,
			FeatureHeartRate:        72,
			FeatureBloodGlucose:     100,
			FeatureWeight:           75,
			FeatureHeight:           170,
			FeatureSmoking:          0,
			FeatureOxygenSaturation: 98,
		},
		Thresholds: Thresholds{
			SystolicElevated:     130,
			SystolicStage1:       140,
			SystolicStage2:       160,
			DiastolicStage1:      90,
			DiastolicStage2:      100,
			BMIOverweight:        25,
			BMIObese:             30,
			GlucosePrediabetes:   100,
			GlucoseDiabetes:      126,
			HeartRateElevated:    85,
			HeartRateTachycardia: 100,
			OxygenLow:            95,
			AgeElevated:          55,
			AgeHigh:              65,
		},
		Conditions: []ConditionModel{
			{
				Condition:   ConditionCardiovascular,
				DisplayName: "Cardiovascular disease",
				BaseLogOdds: -2.3,
				Weights: Weights{
					{FeatureAge, 0.05},
					{FeatureSystolicBP, 0.02},
					{FeatureDiastolicBP, 0.01},
					{FeatureBMI, 0.04},
					{FeatureHeartRate, 0.01},
					{FeatureBloodGlucose, 0.005},
					{FeatureSmoking, 0.7},
				},
				Confidence: 0.85,
				Recommendations: []string{
					"Monitor blood pressure at least weekly",
					"Aim for 150 minutes of moderate aerobic activity per week",
					"Limit sodium intake to under 2,300 mg per day",
					"Discuss a lipid panel with your doctor",
				},
				LegacyWaterfallBaseline: 7.5,
			},
			{
				Condition:   ConditionDiabetes,
				DisplayName: "Type 2 diabetes",
				BaseLogOdds: -2.6,
				Weights: Weights{
					{FeatureAge, 0.03},
					{FeatureBMI, 0.08},
					{FeatureBloodGlucose, 0.04},
					{FeatureSystolicBP, 0.01},
					{FeatureHeartRate, 0.005},
					{FeatureSmoking, 0.3},
				},
				Confidence: 0.82,
				Recommendations: []string{
					"Check fasting blood glucose every 3 months",
					"Reduce refined carbohydrate and sugar intake",
					"Maintain a healthy weight through diet and exercise",
					"Ask your doctor about an HbA1c test",
				},
				LegacyWaterfallBaseline: 8.0,
			},
		},
		Sensitivity: []SensitivityRange{
			{FeatureBMI, 18, 40, 1},
			{FeatureSystolicBP, 90, 180, 5},
			{FeatureDiastolicBP, 60, 110, 5},
			{FeatureBloodGlucose, 70, 200, 10},
			{FeatureHeartRate, 50, 110, 5},
		},
		Counterfactuals: []CounterfactualTarget{
			{"Lower systolic blood pressure to 120 mmHg", FeatureSystolicBP, 120},
			{"Reach a BMI of 24", FeatureBMI, 24},
			{"Bring fasting glucose to 95 mg/dL", FeatureBloodGlucose, 95},
			{"Quit smoking", FeatureSmoking, 0},
			{"Lower resting heart rate to 70 bpm", FeatureHeartRate, 70},
			{"Lower diastolic blood pressure to 80 mmHg", FeatureDiastolicBP, 80},
		},
		GlobalImportance: map[Condition]map[Feature]float64{
			ConditionCardiovascular: {
				FeatureAge:          0.28,
				FeatureSystolicBP:   0.22,
				FeatureSmoking:      0.18,
				FeatureBMI:          0.12,
				FeatureDiastolicBP:  0.08,
				FeatureHeartRate:    0.07,
				FeatureBloodGlucose: 0.05,
			},
			ConditionDiabetes: {
				FeatureBloodGlucose: 0.34,
				FeatureBMI:          0.27,
				FeatureAge:          0.17,
				FeatureSmoking:      0.09,
				FeatureSystolicBP:   0.08,
				FeatureHeartRate:    0.05,
			},
		},
		OptimalRatio:           0.3,
		MinCounterfactualDelta: 0.5,
		WaterfallSteps:         6,
		WaterfallMode:          WaterfallModel,
	}
}
