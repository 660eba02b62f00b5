package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"kestrel-qms/core/qms"
	"kestrel-qms/core/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// writeError maps domain failures onto HTTP statuses: rejected transitions
// are 409, unmet guards 422, bad input 400, version races 409, immutable
// records 409.
func writeError(w http.ResponseWriter, err error) {
	if rej, ok := qms.AsRejection(err); ok {
		status := http.StatusBadRequest
		switch rej.Code {
		case qms.CodeInvalidTransition:
			status = http.StatusConflict
		case qms.CodePreconditionFailed:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{"error": errorBody{Code: string(rej.Code), Field: rej.Field, Message: rej.Message}})
		return
	}
	switch {
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": errorBody{Code: "conflict", Message: "record changed underneath you, reload and retry"}})
	case errors.Is(err, store.ErrActionVerified):
		writeJSON(w, http.StatusConflict, map[string]any{"error": errorBody{Code: "action_verified", Message: "verified actions are immutable"}})
	case errors.Is(err, sql.ErrNoRows):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": errorBody{Code: "not_found", Message: "no such record"}})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": errorBody{Code: "internal", Message: "internal server error"}})
	}
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": errorBody{Code: "not_found", Message: "no such record"}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": errorBody{Code: "bad_request", Message: message}})
}
