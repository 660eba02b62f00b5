package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

const (
	sessionCookieName    = "kestrel_session"
	loginPayloadMaxBytes = 64 * 1024
)

type AuthHandler struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions store.SessionStore
	sm       *auth.SessionManager
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionStore, sm *auth.SessionManager, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessions: sessions, sm: sm, audits: audits, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, loginPayloadMaxBytes)
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	user, err := h.users.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil || !user.Active || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		if h.logger != nil {
			h.logger.Printf("LOGIN fail user=%s", username)
		}
		if h.audits != nil {
			_ = h.audits.Append(r.Context(), username, "auth.login.failed", "")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errorBody{Code: "bad_credentials", Message: "invalid username or password"}})
		return
	}
	sess, err := h.sm.Create(r.Context(), user, user.Roles)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), user.Username, "auth.login", "")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":        user.ID,
			"username":  user.Username,
			"full_name": user.FullName,
			"roles":     user.Roles,
		},
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess != nil {
		_ = h.sm.Delete(r.Context(), sess.ID)
		if h.audits != nil {
			_ = h.audits.Append(r.Context(), sess.Username, "auth.logout", "")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errorBody{Code: "unauthorized", Message: "no session"}})
		return
	}
	user, err := h.users.GetUserByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"full_name":  user.FullName,
		"department": user.Department,
		"roles":      user.Roles,
		"last_seen":  sess.LastSeenAt.Format(time.RFC3339),
	})
}

// Ping refreshes the caller's session and is otherwise a no-op.
func (h *AuthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errorBody{Code: "unauthorized", Message: "no session"}})
		return
	}
	_ = h.sm.Refresh(r.Context(), sess.ID)
	_, _ = io.WriteString(w, `{"ok":true}`)
}
