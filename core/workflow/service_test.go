package workflow

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kestrel-qms/config"
	"kestrel-qms/core/qms"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

func setupService(t *testing.T) (*Service, store.EventsStore, store.IncidentsStore, *sql.DB) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(t.TempDir(), "workflow.db"),
		Events:    config.EventsConfig{RegNoFormat: "QE-{year}-{seq:05}"},
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
		Escalation: config.EscalationConfig{
			RiskThreshold: 70,
			Categories:    []string{"patient-safety"},
		},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg.DBDriver, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	events := store.NewEventsStore(db)
	incidents := store.NewIncidentsStore(db)
	audits := store.NewAuditStore(db)
	return NewService(cfg, events, incidents, audits, logger), events, incidents, db
}

var tester = Actor{UserID: 1, Username: "qa.lead"}

func seedEvent(t *testing.T, events store.EventsStore, mutate func(*qms.QualityEvent)) *qms.QualityEvent {
	t.Helper()
	ev := &qms.QualityEvent{
		Title:          "Filling line pressure drift",
		Description:    "Pressure on filling line 2 drifted outside the validated range during batch 7731.",
		Category:       "process-deviation",
		Priority:       qms.PriorityHigh,
		Status:         qms.EventDraft,
		ReporterUserID: 1,
	}
	if mutate != nil {
		mutate(ev)
	}
	if _, err := events.CreateEvent(context.Background(), ev, "QE-{year}-{seq:05}"); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

func TestTransitionEventPersistsAndStamps(t *testing.T) {
	svc, events, incidents, _ := setupService(t)
	ctx := context.Background()
	ev := seedEvent(t, events, nil)

	next, seed, err := svc.TransitionEvent(ctx, ev.ID, qms.EventActionSubmit, nil, ev.Version, tester)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if seed != nil {
		t.Fatalf("submit produced an incident seed")
	}
	if next.Status != qms.EventSubmitted || next.Version != 2 {
		t.Fatalf("after submit: %q v%d", next.Status, next.Version)
	}
	timeline, err := incidents.ListTimeline(ctx, "event", ev.ID, 10)
	if err != nil || len(timeline) != 1 {
		t.Fatalf("timeline after submit: %v %v", timeline, err)
	}
	if timeline[0].EventType != "submit" {
		t.Fatalf("timeline entry = %q", timeline[0].EventType)
	}
}

func TestTransitionEventStaleVersionConflicts(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	ev := seedEvent(t, events, nil)

	if _, _, err := svc.TransitionEvent(ctx, ev.ID, qms.EventActionSubmit, nil, 1, tester); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// Replay from the original snapshot: the state machine would allow
	// triage from submitted, but the version check must refuse the write.
	if _, _, err := svc.TransitionEvent(ctx, ev.ID, qms.EventActionTriage, nil, 1, tester); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale transition error = %v, want ErrConflict", err)
	}
}

func TestTransitionEventRejectionLeavesRecordUntouched(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	ev := seedEvent(t, events, nil)

	_, _, err := svc.TransitionEvent(ctx, ev.ID, qms.EventActionClose, nil, ev.Version, tester)
	rej, ok := qms.AsRejection(err)
	if !ok || rej.Code != qms.CodeInvalidTransition {
		t.Fatalf("close from draft: %v", err)
	}
	got, _ := events.GetEvent(ctx, ev.ID)
	if got.Status != qms.EventDraft || got.Version != 1 {
		t.Fatalf("record changed after rejection: %q v%d", got.Status, got.Version)
	}
}

func TestEscalationCreatesIncidentAtomically(t *testing.T) {
	svc, events, incidents, _ := setupService(t)
	ctx := context.Background()
	ev := seedEvent(t, events, func(e *qms.QualityEvent) {
		e.Status = qms.EventValidated
		e.Priority = qms.PriorityHigh
	})

	next, seed, err := svc.TransitionEvent(ctx, ev.ID, qms.EventActionEscalate, nil, ev.Version, tester)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if next.Status != qms.EventEscalated || next.Priority != qms.PriorityCritical {
		t.Fatalf("event after escalate: %q %q", next.Status, next.Priority)
	}
	if seed == nil || seed.ID == 0 {
		t.Fatalf("no incident created")
	}
	if seed.Severity != qms.SeverityMajor {
		t.Fatalf("seed severity = %q, want major from pre-escalation high priority", seed.Severity)
	}
	inc, _ := incidents.GetIncident(ctx, seed.ID)
	if inc == nil || inc.SourceEventID == nil || *inc.SourceEventID != ev.ID {
		t.Fatalf("incident back-reference wrong: %+v", inc)
	}
	if inc.OwnerUserID != tester.UserID {
		t.Fatalf("incident owner = %d, want actor", inc.OwnerUserID)
	}
}

func TestAutoEscalateHonorsPolicy(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()

	calm := seedEvent(t, events, func(e *qms.QualityEvent) {
		e.Status = qms.EventTriage
		e.RiskScore = 30
	})
	seed, err := svc.AutoEscalate(ctx, calm.ID, tester)
	if err != nil || seed != nil {
		t.Fatalf("low risk auto escalated: %v %v", seed, err)
	}

	hot := seedEvent(t, events, func(e *qms.QualityEvent) {
		e.Status = qms.EventTriage
		e.RiskScore = 85
	})
	seed, err = svc.AutoEscalate(ctx, hot.ID, tester)
	if err != nil || seed == nil {
		t.Fatalf("high risk not auto escalated: %v %v", seed, err)
	}

	mandated := seedEvent(t, events, func(e *qms.QualityEvent) {
		e.Status = qms.EventSubmitted
		e.RiskScore = 5
		e.Category = "patient-safety"
	})
	seed, err = svc.AutoEscalate(ctx, mandated.ID, tester)
	if err != nil || seed == nil {
		t.Fatalf("mandatory category not auto escalated: %v %v", seed, err)
	}
}

func escalatedIncident(t *testing.T, svc *Service, events store.EventsStore) *qms.Incident {
	t.Helper()
	ev := seedEvent(t, events, func(e *qms.QualityEvent) { e.Status = qms.EventValidated })
	_, seed, err := svc.TransitionEvent(context.Background(), ev.ID, qms.EventActionEscalate, nil, ev.Version, tester)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	return seed
}

func TestIncidentFullLifecycle(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	inc := escalatedIncident(t, svc, events)

	if _, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionContainment, Title: "Quarantine batch"}, tester); err != nil {
		t.Fatalf("add containment: %v", err)
	}
	inc, err := svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginContainment, nil, 0, tester)
	if err != nil {
		t.Fatalf("begin containment: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginInvestigation, nil, inc.Version, tester)
	if err != nil {
		t.Fatalf("begin investigation: %v", err)
	}
	rootCause := "Seal wear on valve V-17"
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginCorrective, &qms.IncidentPayload{RootCause: &rootCause}, inc.Version, tester)
	if err != nil {
		t.Fatalf("begin corrective: %v", err)
	}
	corrective, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionCorrective, Title: "Replace valve seals", Status: qms.ActionCompleted}, tester)
	if err != nil {
		t.Fatalf("add corrective: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginEffectiveness, nil, inc.Version, tester)
	if err != nil {
		t.Fatalf("begin effectiveness: %v", err)
	}
	if _, err := svc.VerifyAction(ctx, inc.ID, corrective.ID, qms.EffectivenessEffective, tester); err != nil {
		t.Fatalf("verify: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionReviewCapa, nil, inc.Version, tester)
	if err != nil {
		t.Fatalf("review effectiveness: %v", err)
	}
	if inc.Status != qms.IncidentLessonsLearned {
		t.Fatalf("after review: %q", inc.Status)
	}
	narrative := qms.ClosureNarrative{
		WhatHappened:    "Valve seal wear let pressure drift on line 2.",
		Recommendations: "Add seal wear to the quarterly PM checklist.",
		LessonsLearned:  "Drift alarms fired but were not actioned quickly.",
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionClose, &qms.IncidentPayload{Narrative: &narrative}, inc.Version, tester)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if inc.Status != qms.IncidentClosed {
		t.Fatalf("final status %q", inc.Status)
	}
}

func TestEffectivenessBounceBack(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	inc := escalatedIncident(t, svc, events)

	if _, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionContainment, Title: "Hold shipments"}, tester); err != nil {
		t.Fatalf("add containment: %v", err)
	}
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginContainment, nil, 0, tester)
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginInvestigation, nil, 0, tester)
	rootCause := "Calibration drift"
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginCorrective, &qms.IncidentPayload{RootCause: &rootCause}, 0, tester)
	a, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionCorrective, Title: "Recalibrate sensors", Status: qms.ActionCompleted}, tester)
	if err != nil {
		t.Fatalf("add corrective: %v", err)
	}
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginEffectiveness, nil, 0, tester)

	// Unverified actions block the review outright.
	if _, err := svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionReviewCapa, nil, 0, tester); err == nil {
		t.Fatalf("review with pending verification succeeded")
	}
	if _, err := svc.VerifyAction(ctx, inc.ID, a.ID, qms.EffectivenessPartial, tester); err != nil {
		t.Fatalf("verify: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionReviewCapa, nil, 0, tester)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if inc.Status != qms.IncidentCorrectiveAction {
		t.Fatalf("partial verdict did not bounce back, status %q", inc.Status)
	}
}

func TestBouncedIncidentPassesSecondReview(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	inc := escalatedIncident(t, svc, events)

	if _, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionContainment, Title: "Hold shipments"}, tester); err != nil {
		t.Fatalf("add containment: %v", err)
	}
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginContainment, nil, 0, tester)
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginInvestigation, nil, 0, tester)
	rootCause := "Calibration drift"
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginCorrective, &qms.IncidentPayload{RootCause: &rootCause}, 0, tester)
	a, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionCorrective, Title: "Recalibrate sensors", Status: qms.ActionCompleted}, tester)
	if err != nil {
		t.Fatalf("add corrective: %v", err)
	}
	inc, _ = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginEffectiveness, nil, 0, tester)
	if _, err := svc.VerifyAction(ctx, inc.ID, a.ID, qms.EffectivenessPartial, tester); err != nil {
		t.Fatalf("first verdict: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionReviewCapa, nil, 0, tester)
	if err != nil {
		t.Fatalf("first review: %v", err)
	}
	if inc.Status != qms.IncidentCorrectiveAction {
		t.Fatalf("expected bounce, status %q", inc.Status)
	}

	// Remediation continues, the review re-enters effectiveness and the
	// earlier partial verdict is revised to effective.
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionBeginEffectiveness, nil, 0, tester)
	if err != nil {
		t.Fatalf("re-enter effectiveness: %v", err)
	}
	if _, err := svc.VerifyAction(ctx, inc.ID, a.ID, qms.EffectivenessEffective, tester); err != nil {
		t.Fatalf("revise verdict: %v", err)
	}
	inc, err = svc.TransitionIncident(ctx, inc.ID, qms.IncidentActionReviewCapa, nil, 0, tester)
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if inc.Status != qms.IncidentLessonsLearned {
		t.Fatalf("second review did not pass, status %q", inc.Status)
	}
}

func TestVerifyActionGatedToEffectivenessPhase(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()
	inc := escalatedIncident(t, svc, events)

	a, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionCorrective, Title: "Retrain operators"}, tester)
	if err != nil {
		t.Fatalf("add action: %v", err)
	}
	_, err = svc.VerifyAction(ctx, inc.ID, a.ID, qms.EffectivenessEffective, tester)
	rej, ok := qms.AsRejection(err)
	if !ok || rej.Code != qms.CodePreconditionFailed {
		t.Fatalf("verify outside effectiveness phase: %v", err)
	}
}

func TestDashboardSummary(t *testing.T) {
	svc, events, _, _ := setupService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-48 * time.Hour)
	seedEvent(t, events, func(e *qms.QualityEvent) { e.RiskScore = 85; e.Status = qms.EventTriage })
	seedEvent(t, events, func(e *qms.QualityEvent) { e.RiskScore = 10; e.DueDate = &past })
	seedEvent(t, events, func(e *qms.QualityEvent) { e.Status = qms.EventClosed })

	sum, err := svc.DashboardSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.EventsByStatus["draft"] != 1 || sum.EventsByStatus["triage"] != 1 || sum.EventsByStatus["closed"] != 1 {
		t.Fatalf("events by status: %+v", sum.EventsByStatus)
	}
	if sum.EventsByRiskBand["high"] != 1 || sum.EventsByRiskBand["low"] != 1 {
		t.Fatalf("risk bands: %+v", sum.EventsByRiskBand)
	}
	if sum.OverdueEvents != 1 {
		t.Fatalf("overdue events = %d, want 1", sum.OverdueEvents)
	}
}

func TestSweeperStampsOverdue(t *testing.T) {
	svc, events, incidents, _ := setupService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-24 * time.Hour)
	ev := seedEvent(t, events, func(e *qms.QualityEvent) { e.DueDate = &past })
	fresh := seedEvent(t, events, nil)

	inc := escalatedIncident(t, svc, events)
	if _, err := svc.AddAction(ctx, inc.ID, &qms.RemediationAction{Kind: qms.ActionCorrective, Title: "Replace valve seal", DueDate: &past}, tester); err != nil {
		t.Fatalf("add action: %v", err)
	}

	sweeper := NewSweeper(config.SweeperConfig{Enabled: true}, events, incidents, nil)
	if err := sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	stamped, _ := incidents.ListTimeline(ctx, "event", ev.ID, 10)
	if len(stamped) != 1 || stamped[0].EventType != "overdue" {
		t.Fatalf("overdue event not stamped: %+v", stamped)
	}
	clean, _ := incidents.ListTimeline(ctx, "event", fresh.ID, 10)
	if len(clean) != 0 {
		t.Fatalf("event without due date stamped: %+v", clean)
	}
	incLine, _ := incidents.ListTimeline(ctx, "incident", inc.ID, 10)
	var actionStamped bool
	for _, e := range incLine {
		if e.EventType == "overdue" && strings.Contains(e.Message, "Replace valve seal") {
			actionStamped = true
		}
	}
	if !actionStamped {
		t.Fatalf("overdue action not stamped: %+v", incLine)
	}
}
