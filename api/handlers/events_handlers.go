package handlers

import (
	"net/http"
	"strings"
	"time"

	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/qms"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
	"kestrel-qms/core/workflow"
)

type EventsHandler struct {
	cfg       *config.AppConfig
	events    store.EventsStore
	incidents store.IncidentsStore
	svc       *workflow.Service
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewEventsHandler(cfg *config.AppConfig, events store.EventsStore, incidents store.IncidentsStore, svc *workflow.Service, audits store.AuditStore, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{cfg: cfg, events: events, incidents: incidents, svc: svc, audits: audits, logger: logger}
}

func actorFrom(r *http.Request) workflow.Actor {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		return workflow.Actor{}
	}
	return workflow.Actor{UserID: sess.UserID, Username: sess.Username}
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Search:   strings.TrimSpace(q.Get("q")),
		Status:   strings.TrimSpace(q.Get("status")),
		Priority: strings.TrimSpace(q.Get("priority")),
		Category: strings.TrimSpace(q.Get("category")),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if q.Get("open") == "true" {
		filter.OpenOnly = true
	}
	list, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

type eventCreateRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Source      string     `json:"source"`
	Priority    string     `json:"priority"`
	Location    string     `json:"location"`
	Department  string     `json:"department"`
	DueDate     *time.Time `json:"due_date"`
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeBadRequest(w, "title is required")
		return
	}
	priority := qms.PriorityMedium
	if req.Priority != "" {
		priority = qms.Priority(req.Priority)
		if !qms.IsValidPriority(priority) {
			writeBadRequest(w, "unknown priority")
			return
		}
	}
	actor := actorFrom(r)
	ev := &qms.QualityEvent{
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Category:       strings.TrimSpace(req.Category),
		Source:         strings.TrimSpace(req.Source),
		Priority:       priority,
		Status:         qms.EventDraft,
		ReporterUserID: actor.UserID,
		Location:       req.Location,
		Department:     req.Department,
		DueDate:        req.DueDate,
	}
	if _, err := h.events.CreateEvent(r.Context(), ev, h.cfg.Events.RegNoFormat); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actor.Username, "events.create", ev.RegNo)
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ev == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type eventUpdateRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	Category        *string    `json:"category"`
	Source          *string    `json:"source"`
	Priority        *string    `json:"priority"`
	AssigneeUserID  *int64     `json:"assignee_user_id"`
	Location        *string    `json:"location"`
	Department      *string    `json:"department"`
	DueDate         *time.Time `json:"due_date"`
	ExpectedVersion int        `json:"expected_version"`
}

func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req eventUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ev == nil || ev.DeletedAt != nil {
		writeNotFound(w)
		return
	}
	// Metadata stays editable in every state, terminal ones included; only
	// the status itself belongs to the transition endpoints.
	expected := req.ExpectedVersion
	if expected <= 0 {
		expected = ev.Version
	}
	if req.Title != nil {
		ev.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		ev.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		ev.Category = strings.TrimSpace(*req.Category)
	}
	if req.Source != nil {
		ev.Source = strings.TrimSpace(*req.Source)
	}
	if req.Priority != nil {
		p := qms.Priority(*req.Priority)
		if !qms.IsValidPriority(p) {
			writeBadRequest(w, "unknown priority")
			return
		}
		ev.Priority = p
	}
	if req.AssigneeUserID != nil {
		ev.AssigneeUserID = req.AssigneeUserID
	}
	if req.Location != nil {
		ev.Location = *req.Location
	}
	if req.Department != nil {
		ev.Department = *req.Department
	}
	if req.DueDate != nil {
		ev.DueDate = req.DueDate
	}
	if err := h.events.UpdateEvent(r.Context(), ev, expected); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actorFrom(r).Username, "events.edit", ev.RegNo)
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if err := h.events.SoftDeleteEvent(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actorFrom(r).Username, "events.delete", urlParam(r, "id"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *EventsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if err := h.events.RestoreEvent(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type eventTransitionRequest struct {
	Action          string            `json:"action"`
	ExpectedVersion int               `json:"expected_version"`
	Payload         *qms.EventPayload `json:"payload"`
}

func (h *EventsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req eventTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	ev, incident, err := h.svc.TransitionEvent(r.Context(), id, qms.EventAction(req.Action), req.Payload, req.ExpectedVersion, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"event": ev}
	if incident != nil {
		resp["incident"] = incident
	}
	writeJSON(w, http.StatusOK, resp)
}

// Escalate is the explicit promotion shortcut; it reuses the transition path
// so the same guards and atomicity apply.
func (h *EventsHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req struct {
		ExpectedVersion int `json:"expected_version"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid payload")
			return
		}
	}
	ev, incident, err := h.svc.TransitionEvent(r.Context(), id, qms.EventActionEscalate, nil, req.ExpectedVersion, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev, "incident": incident})
}

type riskRequest struct {
	Severity        int    `json:"severity"`
	Probability     int    `json:"probability"`
	Detectability   int    `json:"detectability"`
	Justification   string `json:"justification"`
	ExpectedVersion int    `json:"expected_version"`
}

// Risk scores the event from its three 1..5 factors and stores the result.
// When the score crosses the escalation threshold the event is promoted on
// the spot.
func (h *EventsHandler) Risk(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req riskRequest
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
	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ev == nil || ev.DeletedAt != nil {
		writeNotFound(w)
		return
	}
	if qms.EventTerminal(ev.Status) {
		writeError(w, qms.NewPreconditionFailed("status", "terminal events are read only"))
		return
	}
	expected := req.ExpectedVersion
	if expected <= 0 {
		expected = ev.Version
	}
	ev.RiskScore = score
	ev.RiskJustification = strings.TrimSpace(req.Justification)
	if err := h.events.UpdateEvent(r.Context(), ev, expected); err != nil {
		writeError(w, err)
		return
	}
	actor := actorFrom(r)
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actor.Username, "risk.score", ev.RegNo)
	}
	incident, err := h.svc.AutoEscalate(r.Context(), ev.ID, actor)
	if err != nil {
		// The score was stored; report the escalation failure on its own.
		writeError(w, err)
		return
	}
	resp := map[string]any{
		"event": ev,
		"risk": map[string]any{
			"score": score,
			"level": qms.LevelForScore(score),
		},
	}
	if incident != nil {
		resp["incident"] = incident
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EventsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	entries, err := h.incidents.ListTimeline(r.Context(), "event", id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}
