package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kestrel-qms/config"
	"kestrel-qms/core/qms"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

// Service drives lifecycle transitions against storage: load the record,
// run the pure state machine, persist under an expected-version check, then
// stamp timeline and audit entries. Two writers racing from the same version
// cannot both win; the loser gets store.ErrConflict.
type Service struct {
	cfg       *config.AppConfig
	events    store.EventsStore
	incidents store.IncidentsStore
	audits    store.AuditStore
	facade    qms.Facade
	logger    *utils.Logger
}

func NewService(cfg *config.AppConfig, events store.EventsStore, incidents store.IncidentsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	policy := qms.NewEscalationPolicy(cfg.Escalation.RiskThreshold, cfg.Escalation.Categories)
	return &Service{
		cfg:       cfg,
		events:    events,
		incidents: incidents,
		audits:    audits,
		facade:    qms.NewFacade(policy),
		logger:    logger,
	}
}

func (s *Service) Facade() qms.Facade { return s.facade }

// Actor identifies who performed a mutation, for audit and timeline rows.
type Actor struct {
	UserID   int64
	Username string
}

// TransitionEvent applies one event action. An escalate action additionally
// creates the spawned incident in the same database transaction as the event
// update, so a version conflict rolls both back.
func (s *Service) TransitionEvent(ctx context.Context, eventID int64, action qms.EventAction, payload *qms.EventPayload, expectedVersion int, actor Actor) (*qms.QualityEvent, *qms.Incident, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if ev == nil || ev.DeletedAt != nil {
		return nil, nil, sql.ErrNoRows
	}
	if expectedVersion <= 0 {
		expectedVersion = ev.Version
	}
	now := utils.NowUTC()
	next, seed, err := s.facade.RequestEventTransition(*ev, action, payload, now)
	if err != nil {
		return nil, nil, err
	}

	if seed != nil {
		seed.OwnerUserID = actor.UserID
		if _, err := s.incidents.CreateIncidentFromEvent(ctx, seed, &next, expectedVersion, s.cfg.Incidents.RegNoFormat); err != nil {
			return nil, nil, err
		}
		s.stampEvent(ctx, next.ID, string(action), fmt.Sprintf("escalated to %s", seed.RegNo), actor)
		s.stampIncident(ctx, seed.ID, "open", fmt.Sprintf("spawned from %s", next.RegNo), actor)
		s.audit(ctx, actor, "events.escalate", fmt.Sprintf("%s -> %s", next.RegNo, seed.RegNo))
		return &next, seed, nil
	}

	if err := s.events.UpdateEvent(ctx, &next, expectedVersion); err != nil {
		return nil, nil, err
	}
	s.stampEvent(ctx, next.ID, string(action), fmt.Sprintf("status %s", next.Status), actor)
	s.audit(ctx, actor, "events.transition", fmt.Sprintf("%s %s -> %s", next.RegNo, action, next.Status))
	return &next, nil, nil
}

// AutoEscalate promotes the event when the escalation policy demands it.
// Returns nil incident when the policy is silent or the event is already
// terminal.
func (s *Service) AutoEscalate(ctx context.Context, eventID int64, actor Actor) (*qms.Incident, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil || ev == nil {
		return nil, err
	}
	if qms.EventTerminal(ev.Status) {
		return nil, nil
	}
	if !s.facade.EscalationPolicy().ShouldEscalate(*ev) {
		return nil, nil
	}
	_, seed, err := s.TransitionEvent(ctx, eventID, qms.EventActionEscalate, nil, ev.Version, actor)
	if err != nil {
		// Drafts cannot escalate yet; the policy will fire again once the
		// event is submitted.
		if _, ok := qms.AsRejection(err); ok {
			return nil, nil
		}
		return nil, err
	}
	return seed, nil
}

// TransitionIncident applies one incident action. The actions list is loaded
// fresh so guard checks see the current remediation state.
func (s *Service) TransitionIncident(ctx context.Context, incidentID int64, action qms.IncidentAction, payload *qms.IncidentPayload, expectedVersion int, actor Actor) (*qms.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil || inc.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	if expectedVersion <= 0 {
		expectedVersion = inc.Version
	}
	now := utils.NowUTC()
	next, err := s.facade.RequestIncidentTransition(*inc, action, payload, now)
	if err != nil {
		return nil, err
	}
	if err := s.incidents.UpdateIncident(ctx, &next, expectedVersion); err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("status %s", next.Status)
	if action == qms.IncidentActionReviewCapa && next.Status == qms.IncidentCorrectiveAction {
		detail = "effectiveness review bounced back to corrective-action"
	}
	s.stampIncident(ctx, next.ID, string(action), detail, actor)
	s.audit(ctx, actor, "incidents.transition", fmt.Sprintf("%s %s -> %s", next.RegNo, action, next.Status))
	return &next, nil
}

// AddAction attaches a containment or corrective action to an incident.
// Containment actions are accepted from open onward; corrective actions only
// once investigation has produced somewhere to hang them.
func (s *Service) AddAction(ctx context.Context, incidentID int64, a *qms.RemediationAction, actor Actor) (*qms.RemediationAction, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil || inc.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	if a.Kind != qms.ActionContainment && a.Kind != qms.ActionCorrective {
		return nil, qms.NewValidationError("kind", "must be containment or corrective")
	}
	if strings.TrimSpace(a.Title) == "" {
		return nil, qms.NewValidationError("title", "is required")
	}
	if qms.IncidentTerminal(inc.Status) {
		return nil, qms.NewPreconditionFailed("status", "closed incidents do not accept new actions")
	}
	a.IncidentID = incidentID
	if a.Status == "" {
		a.Status = qms.ActionPending
	}
	if _, err := s.incidents.AddAction(ctx, a); err != nil {
		return nil, err
	}
	s.stampIncident(ctx, incidentID, "action-added", fmt.Sprintf("%s action %q", a.Kind, a.Title), actor)
	s.audit(ctx, actor, "incidents.actions.add", fmt.Sprintf("%s #%d %q", inc.RegNo, a.ID, a.Title))
	return a, nil
}

// UpdateAction edits an unverified action. Verified actions are immutable
// audit records; the store enforces that and the rejection surfaces here.
func (s *Service) UpdateAction(ctx context.Context, incidentID int64, a *qms.RemediationAction, actor Actor) error {
	a.IncidentID = incidentID
	if a.Status != "" && !qms.IsValidActionStatus(a.Status) {
		return qms.NewValidationError("status", "unknown action status")
	}
	if err := s.incidents.UpdateAction(ctx, a); err != nil {
		return err
	}
	s.stampIncident(ctx, incidentID, "action-updated", fmt.Sprintf("action #%d", a.ID), actor)
	return nil
}

// DeleteAction removes an unverified action.
func (s *Service) DeleteAction(ctx context.Context, incidentID, actionID int64, actor Actor) error {
	if err := s.incidents.DeleteAction(ctx, incidentID, actionID); err != nil {
		return err
	}
	s.stampIncident(ctx, incidentID, "action-deleted", fmt.Sprintf("action #%d", actionID), actor)
	s.audit(ctx, actor, "incidents.actions.delete", fmt.Sprintf("incident %d action %d", incidentID, actionID))
	return nil
}

// VerifyAction records the effectiveness verdict on a corrective action.
// Verification is only meaningful while the incident sits in its
// effectiveness phase. A verdict recorded in an earlier review cycle may be
// revised here, so an incident bounced back over a partial or ineffective
// verdict can pass a later review once remediation catches up.
func (s *Service) VerifyAction(ctx context.Context, incidentID, actionID int64, verdict qms.Effectiveness, actor Actor) (*qms.RemediationAction, error) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil || inc.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	if inc.Status != qms.IncidentEffectiveness {
		return nil, qms.NewPreconditionFailed("status", "verification happens during the effectiveness phase")
	}
	if !qms.IsValidVerdict(verdict) {
		return nil, qms.NewValidationError("effectiveness", "unknown verdict")
	}
	a, err := s.incidents.GetAction(ctx, incidentID, actionID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, sql.ErrNoRows
	}
	if a.Kind != qms.ActionCorrective {
		return nil, qms.NewPreconditionFailed("kind", "only corrective actions carry a verdict")
	}
	now := utils.NowUTC()
	a.Status = qms.ActionVerified
	a.Effectiveness = verdict
	if a.CompletedAt == nil {
		a.CompletedAt = &now
	}
	if err := s.incidents.RecordVerdict(ctx, a); err != nil {
		return nil, err
	}
	s.stampIncident(ctx, incidentID, "action-verified", fmt.Sprintf("action #%d verdict %s", a.ID, verdict), actor)
	s.audit(ctx, actor, "incidents.verify", fmt.Sprintf("%s action %d %s", inc.RegNo, a.ID, verdict))
	return a, nil
}

// EvaluateEffectiveness summarizes the corrective actions of an incident.
func (s *Service) EvaluateEffectiveness(ctx context.Context, incidentID int64) (qms.EffectivenessSummary, error) {
	actions, err := s.incidents.ListActions(ctx, incidentID)
	if err != nil {
		return qms.EffectivenessSummary{}, err
	}
	return qms.EvaluateEffectiveness(actions), nil
}

// Summary is the dashboard aggregate: open counts by lifecycle status plus
// events bucketed by risk band.
type Summary struct {
	EventsByStatus    map[string]int `json:"events_by_status"`
	IncidentsByStatus map[string]int `json:"incidents_by_status"`
	EventsByRiskBand  map[string]int `json:"events_by_risk_band"`
	OverdueEvents     int            `json:"overdue_events"`
	OverdueIncidents  int            `json:"overdue_incidents"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

func (s *Service) DashboardSummary(ctx context.Context) (*Summary, error) {
	now := utils.NowUTC()
	eventCounts, err := s.events.CountEventsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	incidentCounts, err := s.incidents.CountIncidentsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	open, err := s.events.ListEvents(ctx, store.EventFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	bands := map[string]int{}
	for _, ev := range open {
		bands[string(qms.LevelForScore(ev.RiskScore))]++
	}
	overdueEvents, err := s.events.ListEvents(ctx, store.EventFilter{OpenOnly: true, DueBefore: &now})
	if err != nil {
		return nil, err
	}
	overdueIncidents, err := s.incidents.ListIncidents(ctx, store.IncidentFilter{OpenOnly: true, DueBefore: &now})
	if err != nil {
		return nil, err
	}
	return &Summary{
		EventsByStatus:    eventCounts,
		IncidentsByStatus: incidentCounts,
		EventsByRiskBand:  bands,
		OverdueEvents:     len(overdueEvents),
		OverdueIncidents:  len(overdueIncidents),
		GeneratedAt:       now,
	}, nil
}

func (s *Service) stampEvent(ctx context.Context, id int64, eventType, message string, actor Actor) {
	err := s.incidents.AddTimelineEntry(ctx, &store.TimelineEntry{
		RecordType: "event",
		RecordID:   id,
		EventType:  eventType,
		Message:    message,
		CreatedBy:  actor.UserID,
	})
	if err != nil && s.logger != nil {
		s.logger.Errorf("timeline append (event %d): %v", id, err)
	}
}

func (s *Service) stampIncident(ctx context.Context, id int64, eventType, message string, actor Actor) {
	err := s.incidents.AddTimelineEntry(ctx, &store.TimelineEntry{
		RecordType: "incident",
		RecordID:   id,
		EventType:  eventType,
		Message:    message,
		CreatedBy:  actor.UserID,
	})
	if err != nil && s.logger != nil {
		s.logger.Errorf("timeline append (incident %d): %v", id, err)
	}
}

func (s *Service) audit(ctx context.Context, actor Actor, action, details string) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Append(ctx, actor.Username, action, details); err != nil && s.logger != nil {
		s.logger.Errorf("audit append: %v", err)
	}
}
