package riskmodel

import (
	"fmt"
	"math"
)

const (
	minRiskPercentage = 1.0
	maxRiskPercentage = 95.0
	maxReportedLogit  = 50.0
)

// RiskLevel is the ordinal risk tier.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
	RiskVeryHigh
)

// String returns the wire name of the tier.
func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskModerate:
		return "moderate"
	case RiskHigh:
		return "high"
	case RiskVeryHigh:
		return "very-high"
	default:
		return "unknown"
	}
}

// MarshalText renders the tier by name.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a tier name.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	parsed, ok := ParseRiskLevel(string(b))
	if !ok {
		return fmt.Errorf("unknown risk level %q", string(b))
	}
	*l = parsed
	return nil
}

// ParseRiskLevel resolves a tier name.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	for _, l := range []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskVeryHigh} {
		if l.String() == s {
			return l, true
		}
	}
	return RiskLow, false
}

// RiskFactor is a qualitative finding that explains part of the risk.
type RiskFactor struct {
	Name        string   `json:"name"`
	Impact      string   `json:"impact"`
	Description string   `json:"description"`
	Value       *float64 `json:"value,omitempty"`
}

// RiskResult is the scored outcome for one condition.
type RiskResult struct {
	Condition       Condition    `json:"condition"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	RiskScore       float64      `json:"risk_score"`
	RiskPercentage  float64      `json:"risk_percentage"`
	Confidence      float64      `json:"confidence"`
	Factors         []RiskFactor `json:"factors"`
	Recommendations []string     `json:"recommendations"`
}

// LogOdds returns the unbounded linear predictor.
func LogOdds(features PatientFeatures, weights Weights, baseLogOdds float64, means map[Feature]float64) float64 {
	logit := baseLogOdds
	for _, w := range weights {
		logit += w.Value * (features.Value(w.Feature) - means[w.Feature])
	}
	return logit
}

// Score returns the calibrated risk percentage in [1, 95]. It is total: any
// well-typed input, however extreme, lands inside the bounds.
func Score(features PatientFeatures, weights Weights, baseLogOdds float64, means map[Feature]float64) float64 {
	return percentage(LogOdds(features, weights, baseLogOdds, means))
}

// ScoreCondition scores a condition with its configured model.
func ScoreCondition(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) float64 {
	return Score(features, model.Weights, model.BaseLogOdds, cfg.PopulationMeans)
}

// BaselineRisk is the risk of a patient exactly at the population means.
func BaselineRisk(model *ConditionModel) float64 {
	return percentage(model.BaseLogOdds)
}

func percentage(logit float64) float64 {
	if math.IsNaN(logit) {
		return minRiskPercentage
	}
	p := sigmoid(logit) * 100
	return clamp(p, minRiskPercentage, maxRiskPercentage)
}

// boundedLogit keeps the reported log-odds JSON-encodable.
func boundedLogit(logit float64) float64 {
	if math.IsNaN(logit) {
		return -maxReportedLogit
	}
	return clamp(logit, -maxReportedLogit, maxReportedLogit)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LevelFor maps a percentage to its tier.
func LevelFor(pct float64) RiskLevel {
	switch {
	case pct >= 30:
		return RiskVeryHigh
	case pct >= 20:
		return RiskHigh
	case pct >= 10:
		return RiskModerate
	default:
		return RiskLow
	}
}

// AssessRisk scores one condition and attaches the qualitative narrative.
func AssessRisk(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) RiskResult {
	logit := LogOdds(features, model.Weights, model.BaseLogOdds, cfg.PopulationMeans)
	pct := percentage(logit)

	recs := make([]string, len(model.Recommendations))
	copy(recs, model.Recommendations)

	return RiskResult{
		Condition:       model.Condition,
		RiskLevel:       LevelFor(pct),
		RiskScore:       boundedLogit(logit),
		RiskPercentage:  pct,
		Confidence:      model.Confidence,
		Factors:         RiskFactors(cfg, model, features),
		Recommendations: recs,
	}
}
