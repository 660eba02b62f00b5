package qms

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type EventAction string

const (
	EventActionSubmit   EventAction = "submit"
	EventActionTriage   EventAction = "triage"
	EventActionValidate EventAction = "validate"
	EventActionEscalate EventAction = "escalate"
	EventActionClose    EventAction = "close"
)

const (
	eventTitleMinLen       = 5
	eventDescriptionMinLen = 20
)

type eventTransition struct {
	from []EventStatus
	to   EventStatus
}

var eventTransitions = map[EventAction]eventTransition{
	EventActionSubmit:   {from: []EventStatus{EventDraft}, to: EventSubmitted},
	EventActionTriage:   {from: []EventStatus{EventSubmitted}, to: EventTriage},
	EventActionValidate: {from: []EventStatus{EventSubmitted, EventTriage}, to: EventValidated},
	EventActionEscalate: {from: []EventStatus{EventSubmitted, EventTriage, EventValidated}, to: EventEscalated},
	EventActionClose:    {from: []EventStatus{EventTriage, EventValidated}, to: EventClosed},
}

// EventPayload carries optional edits applied together with a transition.
// Edits land on the working copy before guards run, so a rejected transition
// discards them too.
type EventPayload struct {
	Title             *string `json:"title,omitempty"`
	Description       *string `json:"description,omitempty"`
	RiskJustification *string `json:"risk_justification,omitempty"`
}

// ApplyEventAction runs one transition of the quality event state machine on
// a copy of ev. On rejection the input record is untouched and the returned
// event must be discarded.
func ApplyEventAction(ev QualityEvent, action EventAction, payload *EventPayload, now time.Time) (QualityEvent, error) {
	tr, ok := eventTransitions[action]
	if !ok {
		return ev, invalidTransition(fmt.Sprintf("unknown event action %q", action))
	}
	if !statusIn(ev.Status, tr.from) {
		return ev, invalidTransition(fmt.Sprintf("action %q is not available while the event is %q", action, ev.Status))
	}

	next := ev
	if payload != nil {
		if payload.Title != nil {
			next.Title = strings.TrimSpace(*payload.Title)
		}
		if payload.Description != nil {
			next.Description = strings.TrimSpace(*payload.Description)
		}
		if payload.RiskJustification != nil {
			next.RiskJustification = strings.TrimSpace(*payload.RiskJustification)
		}
	}

	switch action {
	case EventActionSubmit:
		if utf8.RuneCountInString(strings.TrimSpace(next.Title)) < eventTitleMinLen {
			return ev, preconditionFailed("title", fmt.Sprintf("title must be at least %d characters before submission", eventTitleMinLen))
		}
		if utf8.RuneCountInString(strings.TrimSpace(next.Description)) < eventDescriptionMinLen {
			return ev, preconditionFailed("description", fmt.Sprintf("description must be at least %d characters before submission", eventDescriptionMinLen))
		}
	case EventActionEscalate:
		// Escalation always runs at critical priority; the spawned incident
		// takes investigative authority over the event.
		next.Priority = PriorityCritical
	}

	next.Status = tr.to
	next.UpdatedAt = now.UTC()
	return next, nil
}

func statusIn[S ~string](status S, set []S) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// EventTerminal reports whether no further transitions are defined for the
// status. Escalated is terminal for the event itself; the spawned incident
// carries the work forward.
func EventTerminal(status EventStatus) bool {
	return status == EventClosed || status == EventEscalated
}
