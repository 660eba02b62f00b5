package qms

import "time"

// Facade is the single entry point collaborators use to request a lifecycle
// transition. It is pure: records go in by value and come back changed or
// not at all; persistence is the caller's concern.
type Facade struct {
	escalation EscalationPolicy
}

func NewFacade(escalation EscalationPolicy) Facade {
	return Facade{escalation: escalation}
}

func (f Facade) EscalationPolicy() EscalationPolicy {
	return f.escalation
}

// RequestEventTransition applies one event action. When the action is an
// escalation the seed for the spawned incident is returned alongside the
// updated event; its severity derives from the event's priority as it stood
// before escalation forced it to critical.
func (f Facade) RequestEventTransition(ev QualityEvent, action EventAction, payload *EventPayload, now time.Time) (QualityEvent, *Incident, error) {
	next, err := ApplyEventAction(ev, action, payload, now)
	if err != nil {
		return ev, nil, err
	}
	if action == EventActionEscalate {
		seed := BuildIncident(next, now)
		seed.Severity = SeverityForPriority(ev.Priority)
		return next, &seed, nil
	}
	return next, nil, nil
}

// RequestIncidentTransition applies one incident action.
func (f Facade) RequestIncidentTransition(inc Incident, action IncidentAction, payload *IncidentPayload, now time.Time) (Incident, error) {
	return ApplyIncidentAction(inc, action, payload, now)
}
