package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"kestrel-qms/config"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

type contextKey string

// SessionContextKey carries the authenticated *store.SessionRecord through
// request contexts.
const SessionContextKey contextKey = "kestrel.session"

type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(sessions store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: sessions, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, roles []string) (*store.SessionRecord, error) {
	id := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	rec := &store.SessionRecord{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      roles,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate returns the live session or nil when the id is unknown or the
// session has expired. Expired rows are deleted on sight.
func (m *SessionManager) Validate(ctx context.Context, sessID string) (*store.SessionRecord, error) {
	if sessID == "" {
		return nil, nil
	}
	rec, err := m.store.GetSession(ctx, sessID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if utils.NowUTC().After(rec.ExpiresAt) {
		_ = m.store.DeleteSession(ctx, sessID)
		return nil, nil
	}
	return rec, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Rotate(ctx context.Context, sessID string) (*store.SessionRecord, error) {
	old, err := m.store.GetSession(ctx, sessID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, errors.New("session not found")
	}
	_ = m.store.DeleteSession(ctx, sessID)
	return m.Create(ctx, &store.User{ID: old.UserID, Username: old.Username}, old.Roles)
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}

// SessionFromContext is a nil-safe accessor for handlers behind the auth
// middleware.
func SessionFromContext(ctx context.Context) *store.SessionRecord {
	rec, _ := ctx.Value(SessionContextKey).(*store.SessionRecord)
	return rec
}
