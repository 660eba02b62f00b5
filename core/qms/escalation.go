package qms

import (
	"strings"
	"time"
)

// EscalationPolicy decides when a quality event must be promoted to a formal
// incident: risk at or above the threshold, or a category that always
// requires investigation. A manual escalation request bypasses the policy
// entirely.
type EscalationPolicy struct {
	riskThreshold int
	categories    map[string]struct{}
}

func NewEscalationPolicy(riskThreshold int, categories []string) EscalationPolicy {
	if riskThreshold <= 0 {
		riskThreshold = RiskHighThreshold
	}
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return EscalationPolicy{riskThreshold: riskThreshold, categories: set}
}

func (p EscalationPolicy) ShouldEscalate(ev QualityEvent) bool {
	if ev.RiskScore >= p.riskThreshold {
		return true
	}
	_, required := p.categories[strings.ToLower(strings.TrimSpace(ev.Category))]
	return required
}

// SeverityForPriority derives the seed severity of a spawned incident from
// the source event's priority.
func SeverityForPriority(p Priority) Severity {
	switch p {
	case PriorityCritical:
		return SeverityCritical
	case PriorityHigh:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// BuildIncident seeds the incident spawned by escalating ev. The incident
// holds a back-reference to the event; it never owns or mutates it.
func BuildIncident(ev QualityEvent, now time.Time) Incident {
	sourceID := ev.ID
	return Incident{
		SourceEventID: &sourceID,
		Title:         ev.Title,
		Description:   ev.Description,
		Severity:      SeverityForPriority(ev.Priority),
		Status:        IncidentOpen,
		OwnerUserID:   ev.ReporterUserID,
		DueDate:       ev.DueDate,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		Version:       1,
	}
}
