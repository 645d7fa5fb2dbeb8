package riskmodel

import (
	"fmt"
	"math"
	"sort"
)

// Direction labels for feature importance.
const (
	IncreasesRisk = "increases_risk"
	DecreasesRisk = "decreases_risk"
)

// FeatureImportance is the permutation attribution of one feature.
type FeatureImportance struct {
	Feature      Feature `json:"feature"`
	Label        string  `json:"label"`
	Importance   float64 `json:"importance"`
	Direction    string  `json:"direction"`
	CurrentValue float64 `json:"current_value"`
	OptimalValue float64 `json:"optimal_value"`
}

// SensitivityPoint is one sample of a sensitivity sweep.
type SensitivityPoint struct {
	Value float64 `json:"value"`
	Risk  float64 `json:"risk"`
}

// Counterfactual is a single-feature what-if scenario and its outcome.
type Counterfactual struct {
	Scenario      string  `json:"scenario"`
	Feature       Feature `json:"feature"`
	CurrentValue  string  `json:"current_value"`
	TargetValue   string  `json:"target_value"`
	CurrentRisk   float64 `json:"current_risk"`
	NewRisk       float64 `json:"new_risk"`
	RiskReduction float64 `json:"risk_reduction"`
}

// WaterfallPoint is one bar of the waterfall decomposition.
type WaterfallPoint struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Cumulative float64 `json:"cumulative"`
	Kind       string  `json:"kind"`
}

// Waterfall point kinds.
const (
	WaterfallBaseline = "baseline"
	WaterfallFactor   = "factor"
	WaterfallResidual = "residual"
	WaterfallTotal    = "total"
)

// FeatureImportances estimates each weighted feature's contribution by
// masking it to its population mean and measuring the change in risk. A
// feature already at its mean has zero importance.
func FeatureImportances(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) []FeatureImportance {
	base := ScoreCondition(cfg, model, features)
	out := make([]FeatureImportance, 0, len(model.Weights))

	for _, w := range model.Weights {
		mean := cfg.Mean(w.Feature)
		masked := ScoreCondition(cfg, model, features.With(w.Feature, mean))
		imp := base - masked

		direction := DecreasesRisk
		if imp > 0 {
			direction = IncreasesRisk
		}

		current := features.Value(w.Feature)
		out = append(out, FeatureImportance{
			Feature:      w.Feature,
			Label:        w.Feature.Label(),
			Importance:   imp,
			Direction:    direction,
			CurrentValue: current,
			OptimalValue: optimalValue(w.Feature, w.Value, current, mean, cfg.OptimalRatio),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Importance), math.Abs(out[j].Importance)
		if ai != aj {
			return ai > aj
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// optimalValue moves the current value by a fixed share of its distance to
// the population mean, downwards for risk-raising weights and upwards for
// protective ones.
func optimalValue(f Feature, weight, current, mean, ratio float64) float64 {
	if f == FeatureSmoking {
		if weight > 0 {
			return 0
		}
		return current
	}
	step := math.Abs(current-mean) * ratio
	if weight > 0 {
		return current - step
	}
	return current + step
}

// SensitivityCurves sweeps every configured modifiable feature that the
// condition model weights, holding all other features fixed.
func SensitivityCurves(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) map[Feature][]SensitivityPoint {
	curves := make(map[Feature][]SensitivityPoint)
	for _, r := range cfg.Sensitivity {
		if !model.Weights.Has(r.Feature) || r.Step <= 0 || r.Max < r.Min {
			continue
		}
		n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
		points := make([]SensitivityPoint, 0, n)
		for i := 0; i < n; i++ {
			v := r.Min + float64(i)*r.Step
			points = append(points, SensitivityPoint{
				Value: v,
				Risk:  ScoreCondition(cfg, model, features.With(r.Feature, v)),
			})
		}
		curves[r.Feature] = points
	}
	return curves
}

// Counterfactuals evaluates each catalog scenario by changing exactly one
// feature to its literal target. Scenarios are single-feature and are not
// jointly optimized. Only scenarios whose absolute risk change exceeds the
// configured minimum are kept, largest reduction first.
func Counterfactuals(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) []Counterfactual {
	current := ScoreCondition(cfg, model, features)
	out := make([]Counterfactual, 0, len(cfg.Counterfactuals))

	for _, target := range cfg.Counterfactuals {
		if !model.Weights.Has(target.Feature) {
			continue
		}
		value := features.Value(target.Feature)
		if value == target.Target {
			continue
		}
		newRisk := ScoreCondition(cfg, model, features.With(target.Feature, target.Target))
		delta := current - newRisk
		if math.Abs(delta) <= cfg.MinCounterfactualDelta {
			continue
		}
		out = append(out, Counterfactual{
			Scenario:      target.Name,
			Feature:       target.Feature,
			CurrentValue:  displayValue(target.Feature, value),
			TargetValue:   displayValue(target.Feature, target.Target),
			CurrentRisk:   current,
			NewRisk:       newRisk,
			RiskReduction: delta,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskReduction > out[j].RiskReduction
	})
	return out
}

func displayValue(f Feature, v float64) string {
	switch f {
	case FeatureSmoking:
		if v > 0 {
			return "Smoker"
		}
		return "Non-smoker"
	case FeatureBMI:
		return fmt.Sprintf("%.1f", v)
	default:
		if unit := f.Unit(); unit != "" {
			return fmt.Sprintf("%.0f %s", v, unit)
		}
		return fmt.Sprintf("%.0f", v)
	}
}

// Waterfall decomposes a risk into a baseline plus the largest importances,
// taken in descending absolute order. In model mode the baseline is the
// model's own risk at the population means and a residual bar closes the gap
// to the scored risk, so the last point always equals risk. Legacy mode uses
// the per-condition literal baseline and stops after the factors, so its
// final value is only an approximation of risk.
func Waterfall(cfg *ModelConfig, model *ConditionModel, importances []FeatureImportance, risk float64) []WaterfallPoint {
	legacy := cfg.WaterfallMode == WaterfallLegacy

	baseline := BaselineRisk(model)
	if legacy {
		baseline = model.LegacyWaterfallBaseline
	}

	points := []WaterfallPoint{{
		Label:      "Population baseline",
		Value:      baseline,
		Cumulative: baseline,
		Kind:       WaterfallBaseline,
	}}

	cumulative := baseline
	for i, imp := range importances {
		if i >= cfg.WaterfallSteps {
			break
		}
		cumulative += imp.Importance
		points = append(points, WaterfallPoint{
			Label:      imp.Label,
			Value:      imp.Importance,
			Cumulative: cumulative,
			Kind:       WaterfallFactor,
		})
	}

	if legacy {
		return points
	}

	residual := risk - cumulative
	if math.Abs(residual) > 1e-9 {
		points = append(points, WaterfallPoint{
			Label:      "Interactions and other factors",
			Value:      residual,
			Cumulative: risk,
			Kind:       WaterfallResidual,
		})
	}
	points = append(points, WaterfallPoint{
		Label:      "Your risk",
		Value:      risk,
		Cumulative: risk,
		Kind:       WaterfallTotal,
	})
	return points
}
