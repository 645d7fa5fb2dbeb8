package external

import (
	"fmt"
	"strings"

	"github.com/health-risk-engine/pkg/riskmodel"
)

const (
	narrativeTopFactors         = 3
	narrativeTopCounterfactuals = 2
)

// Narrative sources.
const (
	SourceLLM      = "llm"
	SourceCache    = "cache"
	SourceTemplate = "template"
)

// FactorSummary is one attribution line handed to the narrative.
type FactorSummary struct {
	Label      string  `json:"label"`
	Importance float64 `json:"importance"`
}

// CounterfactualSummary is one what-if line handed to the narrative.
type CounterfactualSummary struct {
	Scenario      string  `json:"scenario"`
	NewRisk       float64 `json:"new_risk"`
	RiskReduction float64 `json:"risk_reduction"`
}

// ConditionSummary is the structured input for one condition.
type ConditionSummary struct {
	Condition          riskmodel.Condition     `json:"condition"`
	DisplayName        string                  `json:"display_name"`
	RiskPercentage     float64                 `json:"risk_percentage"`
	RiskLevel          riskmodel.RiskLevel     `json:"risk_level"`
	TopFactors         []FactorSummary         `json:"top_factors"`
	TopCounterfactuals []CounterfactualSummary `json:"top_counterfactuals"`
}

// NarrativeSummary is everything the narrative may mention.
type NarrativeSummary struct {
	Conditions []ConditionSummary `json:"conditions"`
}

// Summarize keeps the three largest attributions and the two best
// counterfactuals of each condition.
func Summarize(cfg *riskmodel.ModelConfig, explanations []riskmodel.ConditionExplanation) NarrativeSummary {
	summary := NarrativeSummary{Conditions: make([]ConditionSummary, 0, len(explanations))}

	for _, e := range explanations {
		cs := ConditionSummary{
			Condition:      e.Risk.Condition,
			DisplayName:    string(e.Risk.Condition),
			RiskPercentage: e.Risk.RiskPercentage,
			RiskLevel:      e.Risk.RiskLevel,
		}
		if m, ok := cfg.Model(e.Risk.Condition); ok {
			cs.DisplayName = m.DisplayName
		}

		for i, imp := range e.Importances {
			if i >= narrativeTopFactors {
				break
			}
			cs.TopFactors = append(cs.TopFactors, FactorSummary{Label: imp.Label, Importance: imp.Importance})
		}
		for i, cf := range e.Counterfactuals {
			if i >= narrativeTopCounterfactuals {
				break
			}
			cs.TopCounterfactuals = append(cs.TopCounterfactuals, CounterfactualSummary{
				Scenario:      cf.Scenario,
				NewRisk:       cf.NewRisk,
				RiskReduction: cf.RiskReduction,
			})
		}

		summary.Conditions = append(summary.Conditions, cs)
	}
	return summary
}

// BuildPrompt renders the summary as the user prompt for the text
// generation service. Output is deterministic for a given summary.
func BuildPrompt(summary NarrativeSummary) string {
	var b strings.Builder
	b.WriteString("Explain the following health risk estimates to the patient.\n")

	for _, c := range summary.Conditions {
		fmt.Fprintf(&b, "\nCondition: %s\n", c.DisplayName)
		fmt.Fprintf(&b, "Estimated risk: %.1f%% (%s)\n", c.RiskPercentage, c.RiskLevel)

		if len(c.TopFactors) > 0 {
			b.WriteString("Largest contributors (percentage points):\n")
			for _, f := range c.TopFactors {
				fmt.Fprintf(&b, "- %s: %+.1f\n", f.Label, f.Importance)
			}
		}
		if len(c.TopCounterfactuals) > 0 {
			b.WriteString("What-if scenarios:\n")
			for _, cf := range c.TopCounterfactuals {
				fmt.Fprintf(&b, "- %s: risk would be %.1f%% (change %+.1f)\n", cf.Scenario, cf.NewRisk, -cf.RiskReduction)
			}
		}
	}
	return b.String()
}

// FallbackNarrative interpolates the summary into fixed sentences. It is
// used whenever the text generation service is unavailable.
func FallbackNarrative(summary NarrativeSummary) string {
	if len(summary.Conditions) == 0 {
		return "No risk estimates are available yet."
	}

	paragraphs := make([]string, 0, len(summary.Conditions)+1)
	for _, c := range summary.Conditions {
		sentences := []string{
			fmt.Sprintf("Your estimated %s risk is %.1f%%, which we classify as %s.",
				strings.ToLower(c.DisplayName), c.RiskPercentage, c.RiskLevel),
		}

		if len(c.TopFactors) > 0 {
			parts := make([]string, 0, len(c.TopFactors))
			for _, f := range c.TopFactors {
				parts = append(parts, describeContribution(f))
			}
			sentences = append(sentences, "The factors that move this estimate the most are "+joinList(parts)+".")
		}

		if len(c.TopCounterfactuals) > 0 && c.TopCounterfactuals[0].RiskReduction > 0 {
			best := c.TopCounterfactuals[0]
			sentences = append(sentences, fmt.Sprintf("The most effective single change we checked: %s, which would bring the estimate to %.1f%%.",
				strings.ToLower(best.Scenario), best.NewRisk))
		} else {
			sentences = append(sentences, "Your values are already close to the targets we check for this condition.")
		}

		paragraphs = append(paragraphs, strings.Join(sentences, " "))
	}

	paragraphs = append(paragraphs, "These figures are statistical estimates and do not replace advice from your doctor.")
	return strings.Join(paragraphs, "\n\n")
}

func describeContribution(f FactorSummary) string {
	if f.Importance > 0 {
		return fmt.Sprintf("%s (adds %.1f points)", strings.ToLower(f.Label), f.Importance)
	}
	return fmt.Sprintf("%s (takes off %.1f points)", strings.ToLower(f.Label), -f.Importance)
}

func joinList(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
