package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	Department   string    `json:"department,omitempty"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	Roles        []string  `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UsersStore interface {
	CreateUser(ctx context.Context, u *User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	GetRoles(ctx context.Context, userID int64) ([]string, error)
	SetRoles(ctx context.Context, userID int64, roles []string) error
	CountUsers(ctx context.Context) (int, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) CreateUser(ctx context.Context, u *User) (int64, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	active := 0
	if u.Active {
		active = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(username, full_name, department, password_hash, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)`,
		strings.TrimSpace(u.Username), u.FullName, u.Department, u.PasswordHash, active, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	if len(u.Roles) > 0 {
		if err := s.SetRoles(ctx, id, u.Roles); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *usersStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, full_name, department, password_hash, active, created_at, updated_at FROM users WHERE id=?`, id)
}

func (s *usersStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, `SELECT id, username, full_name, department, password_hash, active, created_at, updated_at FROM users WHERE username=?`, strings.TrimSpace(username))
}

func (s *usersStore) getUser(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	var active int
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.FullName, &u.Department, &u.PasswordHash, &active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active != 0
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	roles, err := s.GetRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (s *usersStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, full_name, department, password_hash, active, created_at, updated_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Department, &u.PasswordHash, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Active = active != 0
		u.CreatedAt = u.CreatedAt.UTC()
		u.UpdatedAt = u.UpdatedAt.UTC()
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		roles, err := s.GetRoles(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Roles = roles
	}
	return res, nil
}

func (s *usersStore) SetActive(ctx context.Context, id int64, active bool) error {
	val := 0
	if active {
		val = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active=?, updated_at=? WHERE id=?`, val, time.Now().UTC(), id)
	return err
}

func (s *usersStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, hash, time.Now().UTC(), id)
	return err
}

func (s *usersStore) GetRoles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles, rows.Err()
}

func (s *usersStore) SetRoles(ctx context.Context, userID int64, roles []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=?`, userID); err != nil {
		tx.Rollback()
		return err
	}
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles(user_id, role) VALUES(?,?)`, userID, role); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *usersStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
