package handlers

import (
	"net/http"

	"kestrel-qms/core/store"
	"kestrel-qms/core/workflow"
)

type DashboardHandler struct {
	svc    *workflow.Service
	audits store.AuditStore
}

func NewDashboardHandler(svc *workflow.Service, audits store.AuditStore) *DashboardHandler {
	return &DashboardHandler{svc: svc, audits: audits}
}

func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.DashboardSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *DashboardHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audits.List(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
