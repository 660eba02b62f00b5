package handlers

import (
	"net/http"
	"strings"
	"time"

	"kestrel-qms/config"
	"kestrel-qms/core/qms"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
	"kestrel-qms/core/workflow"
)

type IncidentsHandler struct {
	cfg       *config.AppConfig
	incidents store.IncidentsStore
	svc       *workflow.Service
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, incidents store.IncidentsStore, svc *workflow.Service, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, incidents: incidents, svc: svc, audits: audits, logger: logger}
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		Search:   strings.TrimSpace(q.Get("q")),
		Status:   strings.TrimSpace(q.Get("status")),
		Severity: strings.TrimSpace(q.Get("severity")),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if q.Get("open") == "true" {
		filter.OpenOnly = true
	}
	list, err := h.incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list, "count": len(list)})
}

type incidentCreateRequest struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Severity         string     `json:"severity"`
	ImpactAssessment string     `json:"impact_assessment"`
	DueDate          *time.Time `json:"due_date"`
}

// Create declares an incident directly, without a source quality event.
func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req incidentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeBadRequest(w, "title is required")
		return
	}
	severity := qms.SeverityMinor
	if req.Severity != "" {
		severity = qms.Severity(req.Severity)
		if !qms.IsValidSeverity(severity) {
			writeBadRequest(w, "unknown severity")
			return
		}
	}
	actor := actorFrom(r)
	inc := &qms.Incident{
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		Severity:         severity,
		Status:           qms.IncidentOpen,
		OwnerUserID:      actor.UserID,
		ImpactAssessment: strings.TrimSpace(req.ImpactAssessment),
		DueDate:          req.DueDate,
	}
	if _, err := h.incidents.CreateIncident(r.Context(), inc, h.cfg.Incidents.RegNoFormat); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actor.Username, "incidents.create", inc.RegNo)
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	inc, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if inc == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type incidentUpdateRequest struct {
	Title            *string    `json:"title"`
	Description      *string    `json:"description"`
	Severity         *string    `json:"severity"`
	OwnerUserID      *int64     `json:"owner_user_id"`
	QAApproverUserID *int64     `json:"qa_approver_user_id"`
	ImpactAssessment *string    `json:"impact_assessment"`
	DueDate          *time.Time `json:"due_date"`
	ExpectedVersion  int        `json:"expected_version"`
}

func (h *IncidentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req incidentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	inc, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if inc == nil || inc.DeletedAt != nil {
		writeNotFound(w)
		return
	}
	// Metadata stays editable in every state, terminal ones included; only
	// the status itself belongs to the transition endpoints.
	expected := req.ExpectedVersion
	if expected <= 0 {
		expected = inc.Version
	}
	if req.Title != nil {
		inc.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		inc.Description = strings.TrimSpace(*req.Description)
	}
	if req.Severity != nil {
		sev := qms.Severity(*req.Severity)
		if !qms.IsValidSeverity(sev) {
			writeBadRequest(w, "unknown severity")
			return
		}
		inc.Severity = sev
	}
	if req.OwnerUserID != nil {
		inc.OwnerUserID = *req.OwnerUserID
	}
	if req.QAApproverUserID != nil {
		inc.QAApproverUserID = req.QAApproverUserID
	}
	if req.ImpactAssessment != nil {
		inc.ImpactAssessment = strings.TrimSpace(*req.ImpactAssessment)
	}
	if req.DueDate != nil {
		inc.DueDate = req.DueDate
	}
	if err := h.incidents.UpdateIncident(r.Context(), inc, expected); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actorFrom(r).Username, "incidents.edit", inc.RegNo)
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	if err := h.incidents.SoftDeleteIncident(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), actorFrom(r).Username, "incidents.delete", urlParam(r, "id"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type incidentTransitionRequest struct {
	Action          string               `json:"action"`
	ExpectedVersion int                  `json:"expected_version"`
	Payload         *qms.IncidentPayload `json:"payload"`
}

func (h *IncidentsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req incidentTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	inc, err := h.svc.TransitionIncident(r.Context(), id, qms.IncidentAction(req.Action), req.Payload, req.ExpectedVersion, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	actions, err := h.incidents.ListActions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

type actionRequest struct {
	Kind           string     `json:"kind"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	AssigneeUserID *int64     `json:"assignee_user_id"`
	DueDate        *time.Time `json:"due_date"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func (h *IncidentsHandler) AddAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	action := &qms.RemediationAction{
		Kind:           qms.ActionKind(req.Kind),
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Status:         qms.ActionStatus(req.Status),
		AssigneeUserID: req.AssigneeUserID,
		DueDate:        req.DueDate,
		CompletedAt:    req.CompletedAt,
	}
	if _, err := h.svc.AddAction(r.Context(), id, action, actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (h *IncidentsHandler) UpdateAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	actionID, ok2 := pathID(r, "action_id")
	if !ok || !ok2 {
		writeBadRequest(w, "invalid id")
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	current, err := h.incidents.GetAction(r.Context(), id, actionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if current == nil {
		writeNotFound(w)
		return
	}
	if req.Title != "" {
		current.Title = strings.TrimSpace(req.Title)
	}
	if req.Description != "" {
		current.Description = strings.TrimSpace(req.Description)
	}
	if req.Status != "" {
		current.Status = qms.ActionStatus(req.Status)
	}
	if req.AssigneeUserID != nil {
		current.AssigneeUserID = req.AssigneeUserID
	}
	if req.DueDate != nil {
		current.DueDate = req.DueDate
	}
	if req.CompletedAt != nil {
		current.CompletedAt = req.CompletedAt
	}
	if err := h.svc.UpdateAction(r.Context(), id, current, actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *IncidentsHandler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	actionID, ok2 := pathID(r, "action_id")
	if !ok || !ok2 {
		writeBadRequest(w, "invalid id")
		return
	}
	if err := h.svc.DeleteAction(r.Context(), id, actionID, actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type verifyRequest struct {
	Effectiveness string `json:"effectiveness"`
}

func (h *IncidentsHandler) VerifyAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	actionID, ok2 := pathID(r, "action_id")
	if !ok || !ok2 {
		writeBadRequest(w, "invalid id")
		return
	}
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	action, err := h.svc.VerifyAction(r.Context(), id, actionID, qms.Effectiveness(req.Effectiveness), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// Effectiveness reports the CAPA summary used by the review transition.
func (h *IncidentsHandler) Effectiveness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	sum, err := h.svc.EvaluateEffectiveness(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *IncidentsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid id")
		return
	}
	entries, err := h.incidents.ListTimeline(r.Context(), "incident", id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}
