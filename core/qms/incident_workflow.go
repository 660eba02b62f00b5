package qms

import (
	"fmt"
	"strings"
	"time"
)

type IncidentAction string

const (
	IncidentActionBeginContainment   IncidentAction = "begin-containment"
	IncidentActionBeginInvestigation IncidentAction = "begin-investigation"
	IncidentActionBeginCorrective    IncidentAction = "begin-corrective-action"
	IncidentActionBeginEffectiveness IncidentAction = "begin-effectiveness"
	IncidentActionReviewCapa         IncidentAction = "review-effectiveness"
	IncidentActionRequestReview      IncidentAction = "request-review"
	IncidentActionReject             IncidentAction = "reject"
	IncidentActionClose              IncidentAction = "close"
)

type incidentTransition struct {
	from []IncidentStatus
	to   IncidentStatus
}

var incidentTransitions = map[IncidentAction]incidentTransition{
	IncidentActionBeginContainment:   {from: []IncidentStatus{IncidentOpen}, to: IncidentContainment},
	IncidentActionBeginInvestigation: {from: []IncidentStatus{IncidentContainment}, to: IncidentInvestigation},
	IncidentActionBeginCorrective:    {from: []IncidentStatus{IncidentInvestigation}, to: IncidentCorrectiveAction},
	IncidentActionBeginEffectiveness: {from: []IncidentStatus{IncidentCorrectiveAction}, to: IncidentEffectiveness},
	IncidentActionReviewCapa:         {from: []IncidentStatus{IncidentEffectiveness}, to: IncidentLessonsLearned},
	IncidentActionRequestReview:      {from: []IncidentStatus{IncidentLessonsLearned}, to: IncidentReview},
	IncidentActionReject:             {from: []IncidentStatus{IncidentReview}, to: IncidentCorrectiveAction},
	IncidentActionClose:              {from: []IncidentStatus{IncidentLessonsLearned, IncidentReview}, to: IncidentClosed},
}

// IncidentPayload carries optional field updates applied together with a
// transition, on the working copy, before guard evaluation.
type IncidentPayload struct {
	RootCause        *string           `json:"root_cause,omitempty"`
	ImpactAssessment *string           `json:"impact_assessment,omitempty"`
	Narrative        *ClosureNarrative `json:"narrative,omitempty"`
}

// ApplyIncidentAction runs one transition of the incident state machine on a
// copy of inc. The effectiveness review transition may legally land on
// corrective-action instead of lessons-learned: when every corrective action
// is verified but at least one verdict is not "effective" the incident
// bounces back for further remediation. That bounce is a successful
// transition, not an error.
func ApplyIncidentAction(inc Incident, action IncidentAction, payload *IncidentPayload, now time.Time) (Incident, error) {
	tr, ok := incidentTransitions[action]
	if !ok {
		return inc, invalidTransition(fmt.Sprintf("unknown incident action %q", action))
	}
	if !statusIn(inc.Status, tr.from) {
		return inc, invalidTransition(fmt.Sprintf("action %q is not available while the incident is %q", action, inc.Status))
	}

	next := inc
	if payload != nil {
		if payload.RootCause != nil {
			next.RootCause = strings.TrimSpace(*payload.RootCause)
		}
		if payload.ImpactAssessment != nil {
			next.ImpactAssessment = strings.TrimSpace(*payload.ImpactAssessment)
		}
		if payload.Narrative != nil {
			next.Narrative = ClosureNarrative{
				WhatHappened:    strings.TrimSpace(payload.Narrative.WhatHappened),
				Recommendations: strings.TrimSpace(payload.Narrative.Recommendations),
				LessonsLearned:  strings.TrimSpace(payload.Narrative.LessonsLearned),
			}
		}
	}

	to := tr.to
	switch action {
	case IncidentActionBeginContainment, IncidentActionBeginInvestigation:
		if len(next.ContainmentActions()) == 0 {
			return inc, preconditionFailed("containment_actions", "record at least one containment action first")
		}
	case IncidentActionBeginCorrective:
		if strings.TrimSpace(next.RootCause) == "" {
			return inc, preconditionFailed("root_cause", "complete the root cause before leaving investigation")
		}
	case IncidentActionBeginEffectiveness:
		if len(next.CorrectiveActions()) == 0 {
			return inc, preconditionFailed("corrective_actions", "record at least one corrective action first")
		}
	case IncidentActionReviewCapa:
		summary := EvaluateEffectiveness(next.Actions)
		if !summary.AllVerified {
			return inc, preconditionFailed("corrective_actions", fmt.Sprintf("%d corrective action(s) still await an effectiveness verdict", len(summary.Pending)))
		}
		if !summary.AllEffective {
			to = IncidentCorrectiveAction
		}
	case IncidentActionClose:
		if strings.TrimSpace(next.Narrative.WhatHappened) == "" {
			return inc, preconditionFailed("narrative.what_happened", "complete the what-happened narrative before closing")
		}
		if strings.TrimSpace(next.RootCause) == "" {
			return inc, preconditionFailed("root_cause", "complete the root cause before closing")
		}
		if strings.TrimSpace(next.Narrative.Recommendations) == "" {
			return inc, preconditionFailed("narrative.recommendations", "complete the recommendations before closing")
		}
	}

	next.Status = to
	next.UpdatedAt = now.UTC()
	return next, nil
}

func IncidentTerminal(status IncidentStatus) bool {
	return status == IncidentClosed
}
