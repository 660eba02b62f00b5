package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type SessionRecord struct {
	ID         string
	UserID     int64
	Username   string
	Roles      []string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

type SessionStore interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, username, roles, created_at, last_seen_at, expires_at)
		VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.Username, strings.Join(rec.Roles, ","), rec.CreatedAt.UTC(), rec.LastSeenAt.UTC(), rec.ExpiresAt.UTC())
	return err
}

func (s *sessionsStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var roles string
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, username, roles, created_at, last_seen_at, expires_at FROM sessions WHERE id=?`, id).
		Scan(&rec.ID, &rec.UserID, &rec.Username, &roles, &rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if roles != "" {
		rec.Roles = strings.Split(roles, ",")
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=?`, now.UTC(), now.UTC().Add(ttl), id)
	return err
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
