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

// ErrActionVerified marks an attempt to change or remove a verified action.
var ErrActionVerified = errors.New("store: verified action is immutable")

type IncidentFilter struct {
	Search         string
	Status         string
	Severity       string
	OwnerUserID    int64
	SourceEventID  int64
	DueBefore      *time.Time
	OpenOnly       bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type TimelineEntry struct {
	ID         int64     `json:"id"`
	RecordType string    `json:"record_type"`
	RecordID   int64     `json:"record_id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message,omitempty"`
	CreatedBy  int64     `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, inc *qms.Incident, regFormat string) (int64, error)
	// CreateIncidentFromEvent performs the escalation handoff in one
	// transaction: the event row moves to its escalated state under a version
	// check and the seeded incident is inserted. Either both land or neither.
	CreateIncidentFromEvent(ctx context.Context, inc *qms.Incident, ev *qms.QualityEvent, expectedVersion int, regFormat string) (int64, error)
	UpdateIncident(ctx context.Context, inc *qms.Incident, expectedVersion int) error
	GetIncident(ctx context.Context, id int64) (*qms.Incident, error)
	GetIncidentByRegNo(ctx context.Context, regNo string) (*qms.Incident, error)
	FindOpenBySourceEvent(ctx context.Context, eventID int64) (*qms.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]qms.Incident, error)
	SoftDeleteIncident(ctx context.Context, id int64) error
	CountIncidentsByStatus(ctx context.Context) (map[string]int, error)

	AddAction(ctx context.Context, a *qms.RemediationAction) (int64, error)
	UpdateAction(ctx context.Context, a *qms.RemediationAction) error
	DeleteAction(ctx context.Context, incidentID, actionID int64) error
	RecordVerdict(ctx context.Context, a *qms.RemediationAction) error
	ListActions(ctx context.Context, incidentID int64) ([]qms.RemediationAction, error)
	ListOverdueActions(ctx context.Context, before time.Time) ([]qms.RemediationAction, error)
	GetAction(ctx context.Context, incidentID, actionID int64) (*qms.RemediationAction, error)

	AddTimelineEntry(ctx context.Context, e *TimelineEntry) error
	ListTimeline(ctx context.Context, recordType string, recordID int64, limit int) ([]TimelineEntry, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, reg_no, source_event_id, title, description, severity, status, owner_user_id, qa_approver_user_id, root_cause, impact_assessment, what_happened, recommendations, lessons_learned, due_date, created_at, updated_at, version, deleted_at`

func (s *incidentsStore) CreateIncident(ctx context.Context, inc *qms.Incident, regFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertIncidentTx(ctx, tx, inc, regFormat)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *incidentsStore) CreateIncidentFromEvent(ctx context.Context, inc *qms.Incident, ev *qms.QualityEvent, expectedVersion int, regFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE quality_events SET status=?, priority=?, updated_at=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		string(ev.Status), string(ev.Priority), now, ev.ID, expectedVersion)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return 0, ErrConflict
	}
	id, err := insertIncidentTx(ctx, tx, inc, regFormat)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	ev.Version = expectedVersion + 1
	ev.UpdatedAt = now
	return id, nil
}

func insertIncidentTx(ctx context.Context, tx *sql.Tx, inc *qms.Incident, regFormat string) (int64, error) {
	if strings.TrimSpace(inc.RegNo) == "" {
		year := time.Now().UTC().Year()
		seq, err := nextSeqTx(ctx, tx, "incident_reg_counters", year)
		if err != nil {
			return 0, err
		}
		inc.RegNo = buildRegNo(regFormat, "INC-{year}-{seq:05}", year, seq)
	}
	if inc.Version <= 0 {
		inc.Version = 1
	}
	if inc.Status == "" {
		inc.Status = qms.IncidentOpen
	}
	if inc.Severity == "" {
		inc.Severity = qms.SeverityMinor
	}
	now := time.Now().UTC()
	inc.CreatedAt = now
	inc.UpdatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents(reg_no, source_event_id, title, description, severity, status, owner_user_id, qa_approver_user_id, root_cause, impact_assessment, what_happened, recommendations, lessons_learned, due_date, created_at, updated_at, version, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL)`,
		inc.RegNo, nullableID(inc.SourceEventID), inc.Title, inc.Description, string(inc.Severity), string(inc.Status), inc.OwnerUserID, nullableID(inc.QAApproverUserID), inc.RootCause, inc.ImpactAssessment, inc.Narrative.WhatHappened, inc.Narrative.Recommendations, inc.Narrative.LessonsLearned, nullableTime(inc.DueDate), now, now, inc.Version)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	inc.ID = id
	return id, nil
}

func (s *incidentsStore) UpdateIncident(ctx context.Context, inc *qms.Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET title=?, description=?, severity=?, status=?, owner_user_id=?, qa_approver_user_id=?, root_cause=?, impact_assessment=?, what_happened=?, recommendations=?, lessons_learned=?, due_date=?, updated_at=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		inc.Title, inc.Description, string(inc.Severity), string(inc.Status), inc.OwnerUserID, nullableID(inc.QAApproverUserID), inc.RootCause, inc.ImpactAssessment, inc.Narrative.WhatHappened, inc.Narrative.Recommendations, inc.Narrative.LessonsLearned, nullableTime(inc.DueDate), now, inc.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	inc.Version = expectedVersion + 1
	inc.UpdatedAt = now
	return nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*qms.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id)
	inc, err := scanIncident(row)
	if err != nil || inc == nil {
		return inc, err
	}
	return s.withActions(ctx, inc)
}

func (s *incidentsStore) GetIncidentByRegNo(ctx context.Context, regNo string) (*qms.Incident, error) {
	if strings.TrimSpace(regNo) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE reg_no=?`, regNo)
	inc, err := scanIncident(row)
	if err != nil || inc == nil {
		return inc, err
	}
	return s.withActions(ctx, inc)
}

func (s *incidentsStore) FindOpenBySourceEvent(ctx context.Context, eventID int64) (*qms.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE source_event_id=? AND status != 'closed' AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1`, eventID)
	inc, err := scanIncident(row)
	if err != nil || inc == nil {
		return inc, err
	}
	return s.withActions(ctx, inc)
}

func (s *incidentsStore) withActions(ctx context.Context, inc *qms.Incident) (*qms.Incident, error) {
	actions, err := s.ListActions(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	inc.Actions = actions
	return inc, nil
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]qms.Incident, error) {
	var clauses []string
	var args []any
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.OpenOnly {
		clauses = append(clauses, "status != 'closed'")
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, filter.Severity)
	}
	if filter.OwnerUserID > 0 {
		clauses = append(clauses, "owner_user_id=?")
		args = append(args, filter.OwnerUserID)
	}
	if filter.SourceEventID > 0 {
		clauses = append(clauses, "source_event_id=?")
		args = append(args, filter.SourceEventID)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR reg_no LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	if filter.DueBefore != nil {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
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
	var res []qms.Incident
	for rows.Next() {
		inc, err := scanIncidentFields(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) SoftDeleteIncident(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET deleted_at=?, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) CountIncidentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents WHERE deleted_at IS NULL GROUP BY status`)
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

const actionColumns = `id, incident_id, kind, title, description, status, assignee_user_id, due_date, completed_at, effectiveness, created_at, updated_at`

func (s *incidentsStore) AddAction(ctx context.Context, a *qms.RemediationAction) (int64, error) {
	now := time.Now().UTC()
	if a.Status == "" {
		a.Status = qms.ActionPending
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO remediation_actions(incident_id, kind, title, description, status, assignee_user_id, due_date, completed_at, effectiveness, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		a.IncidentID, string(a.Kind), a.Title, a.Description, string(a.Status), nullableID(a.AssigneeUserID), nullableTime(a.DueDate), nullableTime(a.CompletedAt), string(a.Effectiveness), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	a.ID = id
	return id, nil
}

func (s *incidentsStore) UpdateAction(ctx context.Context, a *qms.RemediationAction) error {
	current, err := s.GetAction(ctx, a.IncidentID, a.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return sql.ErrNoRows
	}
	// A verified verdict may be recorded once; after that the row is frozen.
	if current.Verified() {
		return ErrActionVerified
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE remediation_actions SET title=?, description=?, status=?, assignee_user_id=?, due_date=?, completed_at=?, effectiveness=?, updated_at=?
		WHERE id=? AND incident_id=?`,
		a.Title, a.Description, string(a.Status), nullableID(a.AssigneeUserID), nullableTime(a.DueDate), nullableTime(a.CompletedAt), string(a.Effectiveness), now, a.ID, a.IncidentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	a.UpdatedAt = now
	return nil
}

// RecordVerdict writes the verification fields of an action. Unlike
// UpdateAction it accepts already-verified rows: a later effectiveness review
// cycle may revise the verdict. Title, description, assignee and due date
// stay frozen once verified, and deletion stays forbidden.
func (s *incidentsStore) RecordVerdict(ctx context.Context, a *qms.RemediationAction) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE remediation_actions SET status=?, effectiveness=?, completed_at=?, updated_at=?
		WHERE id=? AND incident_id=?`,
		string(a.Status), string(a.Effectiveness), nullableTime(a.CompletedAt), now, a.ID, a.IncidentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	a.UpdatedAt = now
	return nil
}

func (s *incidentsStore) DeleteAction(ctx context.Context, incidentID, actionID int64) error {
	current, err := s.GetAction(ctx, incidentID, actionID)
	if err != nil {
		return err
	}
	if current == nil {
		return sql.ErrNoRows
	}
	if current.Verified() {
		return ErrActionVerified
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM remediation_actions WHERE id=? AND incident_id=?`, actionID, incidentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *incidentsStore) ListActions(ctx context.Context, incidentID int64) ([]qms.RemediationAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE incident_id=? ORDER BY id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []qms.RemediationAction
	for rows.Next() {
		a, err := scanActionFields(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListOverdueActions returns open actions whose due date has passed. Completed
// and verified actions are no longer actionable and are skipped.
func (s *incidentsStore) ListOverdueActions(ctx context.Context, before time.Time) ([]qms.RemediationAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM remediation_actions
		WHERE due_date IS NOT NULL AND due_date < ? AND status IN ('pending','in-progress')
		ORDER BY due_date, id`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []qms.RemediationAction
	for rows.Next() {
		a, err := scanActionFields(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *incidentsStore) GetAction(ctx context.Context, incidentID, actionID int64) (*qms.RemediationAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM remediation_actions WHERE id=? AND incident_id=?`, actionID, incidentID)
	a, err := scanActionFields(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (s *incidentsStore) AddTimelineEntry(ctx context.Context, e *TimelineEntry) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_timeline(record_type, record_id, event_type, message, created_by, created_at)
		VALUES(?,?,?,?,?,?)`,
		e.RecordType, e.RecordID, e.EventType, e.Message, e.CreatedBy, now)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *incidentsStore) ListTimeline(ctx context.Context, recordType string, recordID int64, limit int) ([]TimelineEntry, error) {
	query := `SELECT id, record_type, record_id, event_type, message, created_by, created_at FROM workflow_timeline WHERE record_type=? AND record_id=? ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, recordType, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.RecordType, &e.RecordID, &e.EventType, &e.Message, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanIncidentFields(row rowScanner) (qms.Incident, error) {
	var inc qms.Incident
	var sourceEvent, approver sql.NullInt64
	var due, deleted sql.NullTime
	var severity, status string
	if err := row.Scan(&inc.ID, &inc.RegNo, &sourceEvent, &inc.Title, &inc.Description, &severity, &status, &inc.OwnerUserID, &approver, &inc.RootCause, &inc.ImpactAssessment, &inc.Narrative.WhatHappened, &inc.Narrative.Recommendations, &inc.Narrative.LessonsLearned, &due, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version, &deleted); err != nil {
		return inc, err
	}
	inc.Severity = qms.Severity(severity)
	inc.Status = qms.IncidentStatus(status)
	if sourceEvent.Valid {
		inc.SourceEventID = &sourceEvent.Int64
	}
	if approver.Valid {
		inc.QAApproverUserID = &approver.Int64
	}
	if due.Valid {
		t := due.Time.UTC()
		inc.DueDate = &t
	}
	if deleted.Valid {
		t := deleted.Time.UTC()
		inc.DeletedAt = &t
	}
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	return inc, nil
}

func scanIncident(row *sql.Row) (*qms.Incident, error) {
	inc, err := scanIncidentFields(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inc, nil
}

func scanActionFields(row rowScanner) (qms.RemediationAction, error) {
	var a qms.RemediationAction
	var assignee sql.NullInt64
	var due, completed sql.NullTime
	var kind, status, eff string
	if err := row.Scan(&a.ID, &a.IncidentID, &kind, &a.Title, &a.Description, &status, &assignee, &due, &completed, &eff, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Kind = qms.ActionKind(kind)
	a.Status = qms.ActionStatus(status)
	a.Effectiveness = qms.Effectiveness(eff)
	if assignee.Valid {
		a.AssigneeUserID = &assignee.Int64
	}
	if due.Valid {
		t := due.Time.UTC()
		a.DueDate = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		a.CompletedAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}
