package handlers

import (
	"net/http"

	"kestrel-qms/core/qms"
)

// RiskHandler computes risk scores without touching any record. The display
// layer uses it for live what-if previews while a form is being filled in.
type RiskHandler struct{}

func NewRiskHandler() *RiskHandler {
	return &RiskHandler{}
}

type riskComputeRequest struct {
	Severity      int `json:"severity"`
	Probability   int `json:"probability"`
	Detectability int `json:"detectability"`
}

func (h *RiskHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req riskComputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	score, err := qms.ScoreRisk(qms.RiskFactors{
		Severity:      req.Severity,
		Probability:   req.Probability,
		Detectability: req.Detectability,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score": score,
		"level": qms.LevelForScore(score),
	})
}
