package riskmodel

import "sort"

// ConditionExplanation is the complete attribution bundle for one condition.
type ConditionExplanation struct {
	Risk            RiskResult                     `json:"risk"`
	Importances     []FeatureImportance            `json:"feature_importance"`
	Sensitivity     map[Feature][]SensitivityPoint `json:"sensitivity"`
	Counterfactuals []Counterfactual               `json:"counterfactuals"`
	Waterfall       []WaterfallPoint               `json:"waterfall"`
}

// GlobalImportanceEntry is one row of the static population-level table.
type GlobalImportanceEntry struct {
	Feature    Feature `json:"feature"`
	Label      string  `json:"label"`
	Importance float64 `json:"importance"`
}

// ExplainCondition runs the scorer and every attribution method for one
// condition model.
func ExplainCondition(cfg *ModelConfig, model *ConditionModel, features PatientFeatures) ConditionExplanation {
	risk := AssessRisk(cfg, model, features)
	importances := FeatureImportances(cfg, model, features)

	return ConditionExplanation{
		Risk:            risk,
		Importances:     importances,
		Sensitivity:     SensitivityCurves(cfg, model, features),
		Counterfactuals: Counterfactuals(cfg, model, features),
		Waterfall:       Waterfall(cfg, model, importances, risk.RiskPercentage),
	}
}

// Explain explains every configured condition, in configuration order.
func Explain(cfg *ModelConfig, features PatientFeatures) []ConditionExplanation {
	out := make([]ConditionExplanation, 0, len(cfg.Conditions))
	for i := range cfg.Conditions {
		out = append(out, ExplainCondition(cfg, &cfg.Conditions[i], features))
	}
	return out
}

// GlobalImportanceTable returns the static table sorted by importance.
func GlobalImportanceTable(cfg *ModelConfig) map[Condition][]GlobalImportanceEntry {
	table := make(map[Condition][]GlobalImportanceEntry, len(cfg.GlobalImportance))
	for condition, values := range cfg.GlobalImportance {
		rows := make([]GlobalImportanceEntry, 0, len(values))
		for f, v := range values {
			rows = append(rows, GlobalImportanceEntry{Feature: f, Label: f.Label(), Importance: v})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Importance != rows[j].Importance {
				return rows[i].Importance > rows[j].Importance
			}
			return rows[i].Feature < rows[j].Feature
		})
		table[condition] = rows
	}
	return table
}
