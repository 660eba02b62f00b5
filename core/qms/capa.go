package qms

// EffectivenessSummary aggregates per-action verification verdicts into an
// incident-level decision.
type EffectivenessSummary struct {
	AllVerified  bool                `json:"all_verified"`
	AllEffective bool                `json:"all_effective"`
	Pending      []RemediationAction `json:"pending,omitempty"`
}

// EvaluateEffectiveness inspects the corrective actions of an incident.
// AllVerified is true iff every corrective action carries a verdict;
// AllEffective is true iff every verdict is "effective". Non-corrective
// actions are ignored. Pure aggregation, usable standalone by reporting.
func EvaluateEffectiveness(actions []RemediationAction) EffectivenessSummary {
	summary := EffectivenessSummary{AllVerified: true, AllEffective: true}
	for _, a := range actions {
		if a.Kind != ActionCorrective {
			continue
		}
		if !a.Verified() {
			summary.AllVerified = false
			summary.AllEffective = false
			summary.Pending = append(summary.Pending, a)
			continue
		}
		if a.Effectiveness != EffectivenessEffective {
			summary.AllEffective = false
		}
	}
	return summary
}
