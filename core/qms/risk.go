package qms

import (
	"fmt"
	"math"
)

// RiskFactors is the transient input for risk scoring. Each factor is rated
// 1 (negligible) to 5 (worst case). Only the derived score is persisted.
type RiskFactors struct {
	Severity      int `json:"severity"`
	Probability   int `json:"probability"`
	Detectability int `json:"detectability"`
}

const (
	riskFactorMin = 1
	riskFactorMax = 5
	rpnMax        = riskFactorMax * riskFactorMax * riskFactorMax
)

// Canonical risk band cut lines. Historical call sites disagreed on the
// medium band floor (40 vs 50); 40 is the canonical value here and everywhere.
const (
	RiskHighThreshold   = 70
	RiskMediumThreshold = 40
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// ScoreRisk maps severity x probability x detectability onto a 0-100 score
// via the risk priority number: score = round(RPN / 125 * 100). Deterministic
// and monotonic non-decreasing in each factor.
func ScoreRisk(f RiskFactors) (int, error) {
	if err := checkFactor("severity", f.Severity); err != nil {
		return 0, err
	}
	if err := checkFactor("probability", f.Probability); err != nil {
		return 0, err
	}
	if err := checkFactor("detectability", f.Detectability); err != nil {
		return 0, err
	}
	rpn := f.Severity * f.Probability * f.Detectability
	score := int(math.Round(float64(rpn) / float64(rpnMax) * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

func checkFactor(name string, val int) error {
	if val < riskFactorMin || val > riskFactorMax {
		return validationError(name, fmt.Sprintf("factor must be between %d and %d, got %d", riskFactorMin, riskFactorMax, val))
	}
	return nil
}

// LevelForScore labels a score for display. The label is non-authoritative:
// escalation decisions use EscalationPolicy, not the band.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= RiskHighThreshold:
		return RiskHigh
	case score >= RiskMediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
