package qms

import (
	"strings"
	"time"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventSubmitted EventStatus = "submitted"
	EventTriage    EventStatus = "triage"
	EventValidated EventStatus = "validated"
	EventEscalated EventStatus = "escalated"
	EventClosed    EventStatus = "closed"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

type IncidentStatus string

const (
	IncidentOpen             IncidentStatus = "open"
	IncidentContainment      IncidentStatus = "containment"
	IncidentInvestigation    IncidentStatus = "investigation"
	IncidentCorrectiveAction IncidentStatus = "corrective-action"
	IncidentEffectiveness    IncidentStatus = "effectiveness"
	IncidentLessonsLearned   IncidentStatus = "lessons-learned"
	IncidentReview           IncidentStatus = "review"
	IncidentClosed           IncidentStatus = "closed"
)

type ActionKind string

const (
	ActionContainment ActionKind = "containment"
	ActionCorrective  ActionKind = "corrective"
)

type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in-progress"
	ActionCompleted  ActionStatus = "completed"
	ActionVerified   ActionStatus = "verified"
)

// Effectiveness is the verification verdict recorded against a corrective
// action. Empty means not yet verified.
type Effectiveness string

const (
	EffectivenessEffective Effectiveness = "effective"
	EffectivenessPartial   Effectiveness = "partially-effective"
	EffectivenessNone      Effectiveness = "ineffective"
)

// QualityEvent is a reported quality signal prior to, or instead of, formal
// incident investigation. It is mutated only through approved transitions.
type QualityEvent struct {
	ID                int64       `json:"id"`
	RegNo             string      `json:"reg_no"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Category          string      `json:"category"`
	Source            string      `json:"source,omitempty"`
	Priority          Priority    `json:"priority"`
	Status            EventStatus `json:"status"`
	RiskScore         int         `json:"risk_score"`
	RiskJustification string      `json:"risk_justification,omitempty"`
	ReporterUserID    int64       `json:"reporter_user_id"`
	AssigneeUserID    *int64      `json:"assignee_user_id,omitempty"`
	Location          string      `json:"location,omitempty"`
	Department        string      `json:"department,omitempty"`
	DueDate           *time.Time  `json:"due_date,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	Version           int         `json:"version"`
	DeletedAt         *time.Time  `json:"deleted_at,omitempty"`
}

// RemediationAction is a single containment or corrective item tracked against
// an incident. Containment and corrective actions share the shape; only the
// corrective kind carries an effectiveness verdict. A verified action is an
// immutable audit record and can never be deleted.
type RemediationAction struct {
	ID             int64         `json:"id"`
	IncidentID     int64         `json:"incident_id"`
	Kind           ActionKind    `json:"kind"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Status         ActionStatus  `json:"status"`
	AssigneeUserID *int64        `json:"assignee_user_id,omitempty"`
	DueDate        *time.Time    `json:"due_date,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Effectiveness  Effectiveness `json:"effectiveness,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ClosureNarrative holds the lessons-learned fields required before an
// incident may close.
type ClosureNarrative struct {
	WhatHappened    string `json:"what_happened,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
	LessonsLearned  string `json:"lessons_learned,omitempty"`
}

// Incident is a formally declared investigation. It may reference the quality
// event that spawned it but never owns it.
type Incident struct {
	ID               int64               `json:"id"`
	RegNo            string              `json:"reg_no"`
	SourceEventID    *int64              `json:"source_event_id,omitempty"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Severity         Severity            `json:"severity"`
	Status           IncidentStatus      `json:"status"`
	OwnerUserID      int64               `json:"owner_user_id"`
	QAApproverUserID *int64              `json:"qa_approver_user_id,omitempty"`
	RootCause        string              `json:"root_cause,omitempty"`
	ImpactAssessment string              `json:"impact_assessment,omitempty"`
	Narrative        ClosureNarrative    `json:"narrative"`
	Actions          []RemediationAction `json:"actions,omitempty"`
	DueDate          *time.Time          `json:"due_date,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Version          int                 `json:"version"`
	DeletedAt        *time.Time          `json:"deleted_at,omitempty"`
}

func (inc Incident) ContainmentActions() []RemediationAction {
	return inc.actionsOfKind(ActionContainment)
}

func (inc Incident) CorrectiveActions() []RemediationAction {
	return inc.actionsOfKind(ActionCorrective)
}

func (inc Incident) actionsOfKind(kind ActionKind) []RemediationAction {
	var out []RemediationAction
	for _, a := range inc.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

var validPriorities = map[Priority]struct{}{
	PriorityLow:      {},
	PriorityMedium:   {},
	PriorityHigh:     {},
	PriorityCritical: {},
}

var validSeverities = map[Severity]struct{}{
	SeverityMinor:    {},
	SeverityMajor:    {},
	SeverityCritical: {},
}

var validEventStatuses = map[EventStatus]struct{}{
	EventDraft:     {},
	EventSubmitted: {},
	EventTriage:    {},
	EventValidated: {},
	EventEscalated: {},
	EventClosed:    {},
}

var validIncidentStatuses = map[IncidentStatus]struct{}{
	IncidentOpen:             {},
	IncidentContainment:      {},
	IncidentInvestigation:    {},
	IncidentCorrectiveAction: {},
	IncidentEffectiveness:    {},
	IncidentLessonsLearned:   {},
	IncidentReview:           {},
	IncidentClosed:           {},
}

var validActionStatuses = map[ActionStatus]struct{}{
	ActionPending:    {},
	ActionInProgress: {},
	ActionCompleted:  {},
	ActionVerified:   {},
}

var validVerdicts = map[Effectiveness]struct{}{
	EffectivenessEffective: {},
	EffectivenessPartial:   {},
	EffectivenessNone:      {},
}

func IsValidPriority(p Priority) bool {
	_, ok := validPriorities[p]
	return ok
}

func IsValidSeverity(s Severity) bool {
	_, ok := validSeverities[s]
	return ok
}

func IsValidEventStatus(s EventStatus) bool {
	_, ok := validEventStatuses[s]
	return ok
}

func IsValidIncidentStatus(s IncidentStatus) bool {
	_, ok := validIncidentStatuses[s]
	return ok
}

func IsValidActionStatus(s ActionStatus) bool {
	_, ok := validActionStatuses[s]
	return ok
}

func IsValidVerdict(v Effectiveness) bool {
	_, ok := validVerdicts[v]
	return ok
}

// Verified reports whether the action carries a recorded effectiveness
// verdict.
func (a RemediationAction) Verified() bool {
	return strings.TrimSpace(string(a.Effectiveness)) != ""
}
