package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kestrel-qms/core/qms"
)

type EventFilter struct {
	Search         string
	Status         string
	StatusIn       []string
	Priority       string
	Category       string
	ReporterUserID int64
	AssigneeUserID int64
	DueBefore      *time.Time
	OpenOnly       bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type EventsStore interface {
	CreateEvent(ctx context.Context, ev *qms.QualityEvent, regFormat string) (int64, error)
	UpdateEvent(ctx context.Context, ev *qms.QualityEvent, expectedVersion int) error
	GetEvent(ctx context.Context, id int64) (*qms.QualityEvent, error)
	GetEventByRegNo(ctx context.Context, regNo string) (*qms.QualityEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]qms.QualityEvent, error)
	SoftDeleteEvent(ctx context.Context, id int64) error
	RestoreEvent(ctx context.Context, id int64) error
	CountEventsByStatus(ctx context.Context) (map[string]int, error)
}

type eventsStore struct {
	db *sql.DB
}

func NewEventsStore(db *sql.DB) EventsStore {
	return &eventsStore{db: db}
}

const eventColumns = `id, reg_no, title, description, category, source, priority, status, risk_score, risk_justification, reporter_user_id, assignee_user_id, location, department, due_date, created_at, updated_at, version, deleted_at`

func (s *eventsStore) CreateEvent(ctx context.Context, ev *qms.QualityEvent, regFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(ev.RegNo) == "" {
		year := time.Now().UTC().Year()
		seq, err := nextSeqTx(ctx, tx, "event_reg_counters", year)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		ev.RegNo = buildRegNo(regFormat, "QE-{year}-{seq:05}", year, seq)
	}
	if ev.Version <= 0 {
		ev.Version = 1
	}
	if ev.Status == "" {
		ev.Status = qms.EventDraft
	}
	if ev.Priority == "" {
		ev.Priority = qms.PriorityMedium
	}
	now := time.Now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO quality_events(reg_no, title, description, category, source, priority, status, risk_score, risk_justification, reporter_user_id, assignee_user_id, location, department, due_date, created_at, updated_at, version, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL)`,
		ev.RegNo, ev.Title, ev.Description, ev.Category, ev.Source, string(ev.Priority), string(ev.Status), ev.RiskScore, ev.RiskJustification, ev.ReporterUserID, nullableID(ev.AssigneeUserID), ev.Location, ev.Department, nullableTime(ev.DueDate), now, now, ev.Version)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	ev.ID = id
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *eventsStore) UpdateEvent(ctx context.Context, ev *qms.QualityEvent, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE quality_events SET title=?, description=?, category=?, source=?, priority=?, status=?, risk_score=?, risk_justification=?, assignee_user_id=?, location=?, department=?, due_date=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		ev.Title, ev.Description, ev.Category, ev.Source, string(ev.Priority), string(ev.Status), ev.RiskScore, ev.RiskJustification, nullableID(ev.AssigneeUserID), ev.Location, ev.Department, nullableTime(ev.DueDate), now, ev.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	ev.Version = expectedVersion + 1
	ev.UpdatedAt = now
	return nil
}

func (s *eventsStore) GetEvent(ctx context.Context, id int64) (*qms.QualityEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM quality_events WHERE id=?`, id)
	return scanEvent(row)
}

func (s *eventsStore) GetEventByRegNo(ctx context.Context, regNo string) (*qms.QualityEvent, error) {
	if strings.TrimSpace(regNo) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM quality_events WHERE reg_no=?`, regNo)
	return scanEvent(row)
}

func (s *eventsStore) ListEvents(ctx context.Context, filter EventFilter) ([]qms.QualityEvent, error) {
	var clauses []string
	var args []any
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if len(filter.StatusIn) > 0 {
		var in []string
		for _, raw := range filter.StatusIn {
			if strings.TrimSpace(raw) != "" {
				in = append(in, strings.TrimSpace(raw))
			}
		}
		if len(in) > 0 {
			placeholders := strings.TrimRight(strings.Repeat("?,", len(in)), ",")
			clauses = append(clauses, fmt.Sprintf("status IN (%s)", placeholders))
			for _, val := range in {
				args = append(args, val)
			}
		}
	} else if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.OpenOnly {
		clauses = append(clauses, "status NOT IN ('closed','escalated')")
	}
	if filter.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, filter.Priority)
	}
	if filter.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR reg_no LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	if filter.ReporterUserID > 0 {
		clauses = append(clauses, "reporter_user_id=?")
		args = append(args, filter.ReporterUserID)
	}
	if filter.AssigneeUserID > 0 {
		clauses = append(clauses, "assignee_user_id=?")
		args = append(args, filter.AssigneeUserID)
	}
	if filter.DueBefore != nil {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}
	query := `SELECT ` + eventColumns + ` FROM quality_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []qms.QualityEvent
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *eventsStore) SoftDeleteEvent(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE quality_events SET deleted_at=?, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *eventsStore) RestoreEvent(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE quality_events SET deleted_at=NULL, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NOT NULL`, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *eventsStore) CountEventsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM quality_events WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventFields(row rowScanner) (qms.QualityEvent, error) {
	var ev qms.QualityEvent
	var assignee sql.NullInt64
	var due, deleted sql.NullTime
	var priority, status string
	if err := row.Scan(&ev.ID, &ev.RegNo, &ev.Title, &ev.Description, &ev.Category, &ev.Source, &priority, &status, &ev.RiskScore, &ev.RiskJustification, &ev.ReporterUserID, &assignee, &ev.Location, &ev.Department, &due, &ev.CreatedAt, &ev.UpdatedAt, &ev.Version, &deleted); err != nil {
		return ev, err
	}
	ev.Priority = qms.Priority(priority)
	ev.Status = qms.EventStatus(status)
	if assignee.Valid {
		ev.AssigneeUserID = &assignee.Int64
	}
	if due.Valid {
		t := due.Time.UTC()
		ev.DueDate = &t
	}
	if deleted.Valid {
		t := deleted.Time.UTC()
		ev.DeletedAt = &t
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	return ev, nil
}

func scanEvent(row *sql.Row) (*qms.QualityEvent, error) {
	ev, err := scanEventFields(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func scanEventRow(rows *sql.Rows) (qms.QualityEvent, error) {
	return scanEventFields(rows)
}

func nextSeqTx(ctx context.Context, tx *sql.Tx, table string, year int) (int64, error) {
	var seq int64
	query := fmt.Sprintf(`
		INSERT INTO %s(year, seq)
		VALUES(?,1)
		ON CONFLICT (year)
		DO UPDATE SET seq = %s.seq + 1
		RETURNING seq`, table, table)
	if err := tx.QueryRowContext(ctx, query, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
