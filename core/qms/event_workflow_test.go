package qms

import (
	"testing"
	"time"
)

func draftEvent() QualityEvent {
	return QualityEvent{
		ID:             7,
		RegNo:          "QE-2026-00007",
		Title:          "Mislabels on batch 42",
		Description:    "Several cartons in batch 42 carry the label of a different product revision.",
		Category:       "labeling",
		Priority:       PriorityMedium,
		Status:         EventDraft,
		ReporterUserID: 3,
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Version:        1,
	}
}

func TestEventSubmitHappyPath(t *testing.T) {
	ev := draftEvent()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	next, err := ApplyEventAction(ev, EventActionSubmit, nil, now)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if next.Status != EventSubmitted {
		t.Fatalf("status = %q, want submitted", next.Status)
	}
	if !next.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at not stamped: %v", next.UpdatedAt)
	}
	if ev.Status != EventDraft {
		t.Fatalf("input record mutated to %q", ev.Status)
	}
}

func TestEventSubmitContentGuards(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*QualityEvent)
		field string
	}{
		{"short title", func(ev *QualityEvent) { ev.Title = "Bad" }, "title"},
		{"short description", func(ev *QualityEvent) { ev.Description = "too short" }, "description"},
		{"whitespace only title", func(ev *QualityEvent) { ev.Title = "        " }, "title"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := draftEvent()
			tc.mut(&ev)
			_, err := ApplyEventAction(ev, EventActionSubmit, nil, time.Now())
			rej, ok := AsRejection(err)
			if !ok || rej.Code != CodePreconditionFailed {
				t.Fatalf("expected precondition failure, got %v", err)
			}
			if rej.Field != tc.field {
				t.Fatalf("rejection field = %q, want %q", rej.Field, tc.field)
			}
		})
	}
}

func TestEventTransitionsFromWrongState(t *testing.T) {
	ev := draftEvent()
	for _, action := range []EventAction{EventActionValidate, EventActionEscalate, EventActionClose, EventActionTriage} {
		if _, err := ApplyEventAction(ev, action, nil, time.Now()); err == nil {
			t.Fatalf("action %q accepted from draft", action)
		} else if rej, ok := AsRejection(err); !ok || rej.Code != CodeInvalidTransition {
			t.Fatalf("action %q: expected invalid transition, got %v", action, err)
		}
	}

	ev.Status = EventClosed
	for action := range eventTransitions {
		if _, err := ApplyEventAction(ev, action, nil, time.Now()); err == nil {
			t.Fatalf("action %q accepted on a closed event", action)
		}
	}
}

func TestEventEscalateForcesCriticalPriority(t *testing.T) {
	ev := draftEvent()
	ev.Status = EventValidated
	ev.Priority = PriorityLow
	next, err := ApplyEventAction(ev, EventActionEscalate, nil, time.Now())
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if next.Status != EventEscalated {
		t.Fatalf("status = %q, want escalated", next.Status)
	}
	if next.Priority != PriorityCritical {
		t.Fatalf("priority = %q, want critical", next.Priority)
	}
}

func TestEventPayloadDiscardedOnRejection(t *testing.T) {
	ev := draftEvent()
	bad := "x"
	_, err := ApplyEventAction(ev, EventActionSubmit, &EventPayload{Title: &bad}, time.Now())
	if _, ok := AsRejection(err); !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if ev.Title != "Mislabels on batch 42" {
		t.Fatalf("input title mutated: %q", ev.Title)
	}
}

func TestEventTerminalStates(t *testing.T) {
	if !EventTerminal(EventClosed) || !EventTerminal(EventEscalated) {
		t.Fatal("closed and escalated must be terminal")
	}
	if EventTerminal(EventValidated) {
		t.Fatal("validated must not be terminal")
	}
}
