package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"kestrel-qms/api"
	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/rbac"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
	"kestrel-qms/core/workflow"
)

type testEnv struct {
	server *httptest.Server
	users  store.UsersStore
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(t.TempDir(), "app.db"),
		Events:    config.EventsConfig{RegNoFormat: "QE-{year}-{seq:05}"},
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
		Escalation: config.EscalationConfig{
			RiskThreshold: 70,
			Categories:    []string{"patient-safety"},
		},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, cfg.DBDriver, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	events := store.NewEventsStore(db)
	incidents := store.NewIncidentsStore(db)
	audits := store.NewAuditStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sm := auth.NewSessionManager(sessions, cfg, logger)
	svc := workflow.NewService(cfg, events, incidents, audits, logger)
	server := api.NewServer(cfg, api.ServerDeps{
		Users:          users,
		Sessions:       sessions,
		Events:         events,
		Incidents:      incidents,
		Audits:         audits,
		Policy:         policy,
		SessionManager: sm,
		Workflow:       svc,
	}, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, users: users}
}

func (e *testEnv) createUser(t *testing.T, username, password string, roles ...string) {
	t.Helper()
	u := &store.User{
		Username:     username,
		PasswordHash: auth.MustHashPassword(password),
		Active:       true,
		Roles:        roles,
	}
	if _, err := e.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
}

type client struct {
	t      *testing.T
	base   string
	http   *http.Client
	cookie *http.Cookie
}

func (e *testEnv) login(t *testing.T, username, password string) *client {
	t.Helper()
	c := &client{t: t, base: e.server.URL, http: e.server.Client()}
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := c.http.Post(c.base+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == "kestrel_session" {
			c.cookie = ck
		}
	}
	if c.cookie == nil {
		t.Fatalf("no session cookie after login")
	}
	return c
}

func (c *client) do(method, path string, payload any) (int, map[string]any) {
	c.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (c *client) must(method, path string, payload any, wantStatus int) map[string]any {
	c.t.Helper()
	status, out := c.do(method, path, payload)
	if status != wantStatus {
		c.t.Fatalf("%s %s status %d, want %d (%v)", method, path, status, wantStatus, out)
	}
	return out
}

func recordID(t *testing.T, m map[string]any, keys ...string) int64 {
	t.Helper()
	cur := any(m)
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("no object at %v in %v", keys, m)
		}
		cur = obj[k]
	}
	f, ok := cur.(float64)
	if !ok {
		t.Fatalf("no numeric %v in %v", keys, m)
	}
	return int64(f)
}

func TestEventToIncidentOverHTTP(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "maria.qm", "s3cure pass", "quality_manager")
	c := env.login(t, "maria.qm", "s3cure pass")

	created := c.must("POST", "/api/events/", map[string]any{
		"title":       "Fill volume deviation on line 2",
		"description": "Three vials in batch 8812 measured under the validated fill volume.",
		"category":    "process-deviation",
		"priority":    "high",
	}, http.StatusCreated)
	eventID := recordID(t, created, "id")

	c.must("POST", fmt.Sprintf("/api/events/%d/transition", eventID), map[string]any{"action": "submit"}, http.StatusOK)

	// Risk above the threshold auto escalates to an incident.
	scored := c.must("POST", fmt.Sprintf("/api/events/%d/risk", eventID), map[string]any{
		"severity":      5,
		"probability":   4,
		"detectability": 5,
		"justification": "patient exposure possible",
	}, http.StatusOK)
	if _, ok := scored["incident"]; !ok {
		t.Fatalf("high risk score did not escalate: %v", scored)
	}
	incidentID := recordID(t, scored, "incident", "id")

	ev := c.must("GET", fmt.Sprintf("/api/events/%d", eventID), nil, http.StatusOK)
	if ev["status"] != "escalated" {
		t.Fatalf("event status after escalation: %v", ev["status"])
	}

	// Walk the incident to closure.
	c.must("POST", fmt.Sprintf("/api/incidents/%d/actions", incidentID), map[string]any{
		"kind": "containment", "title": "Quarantine batch 8812",
	}, http.StatusCreated)
	c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{"action": "begin-containment"}, http.StatusOK)
	c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{"action": "begin-investigation"}, http.StatusOK)
	c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{
		"action":  "begin-corrective-action",
		"payload": map[string]any{"root_cause": "Worn filling nozzle gasket"},
	}, http.StatusOK)
	action := c.must("POST", fmt.Sprintf("/api/incidents/%d/actions", incidentID), map[string]any{
		"kind": "corrective", "title": "Replace nozzle gaskets", "status": "completed",
	}, http.StatusCreated)
	actionID := recordID(t, action, "id")
	c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{"action": "begin-effectiveness"}, http.StatusOK)

	// Review before verification must fail the guard.
	status, _ := c.do("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{"action": "review-effectiveness"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("review with pending verification status %d", status)
	}

	c.must("POST", fmt.Sprintf("/api/incidents/%d/actions/%d/verify", incidentID, actionID), map[string]any{"effectiveness": "effective"}, http.StatusOK)

	// Verified actions are immutable.
	status, _ = c.do("DELETE", fmt.Sprintf("/api/incidents/%d/actions/%d", incidentID, actionID), nil)
	if status != http.StatusConflict {
		t.Fatalf("delete verified action status %d", status)
	}

	reviewed := c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{"action": "review-effectiveness"}, http.StatusOK)
	if reviewed["status"] != "lessons-learned" {
		t.Fatalf("after review: %v", reviewed["status"])
	}
	closed := c.must("POST", fmt.Sprintf("/api/incidents/%d/transition", incidentID), map[string]any{
		"action": "close",
		"payload": map[string]any{"narrative": map[string]any{
			"what_happened":   "Gasket wear led to underfilled vials.",
			"recommendations": "Inspect gaskets during monthly PM.",
			"lessons_learned": "Fill checks caught the deviation before release.",
		}},
	}, http.StatusOK)
	if closed["status"] != "closed" {
		t.Fatalf("final incident status: %v", closed["status"])
	}

	// Metadata edits remain available after closure; the status does not move.
	edited := c.must("PUT", fmt.Sprintf("/api/incidents/%d", incidentID), map[string]any{"title": "Underfill on line 4 (batch 2209)"}, http.StatusOK)
	if edited["title"] != "Underfill on line 4 (batch 2209)" || edited["status"] != "closed" {
		t.Fatalf("edit after closure: %v / %v", edited["title"], edited["status"])
	}

	timeline := c.must("GET", fmt.Sprintf("/api/incidents/%d/timeline", incidentID), nil, http.StatusOK)
	if entries, ok := timeline["timeline"].([]any); !ok || len(entries) < 5 {
		t.Fatalf("timeline too short: %v", timeline)
	}
}

func TestViewerCannotTransition(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "maria.qm", "s3cure pass", "quality_manager")
	env.createUser(t, "guest", "view only 1", "viewer")

	qm := env.login(t, "maria.qm", "s3cure pass")
	created := qm.must("POST", "/api/events/", map[string]any{
		"title":       "Mislabeled carton",
		"description": "Carton labels for a different market found on the line.",
		"category":    "labeling",
	}, http.StatusCreated)
	eventID := recordID(t, created, "id")

	viewer := env.login(t, "guest", "view only 1")
	viewer.must("GET", fmt.Sprintf("/api/events/%d", eventID), nil, http.StatusOK)
	status, _ := viewer.do("POST", fmt.Sprintf("/api/events/%d/transition", eventID), map[string]any{"action": "submit"})
	if status != http.StatusForbidden {
		t.Fatalf("viewer transition status %d, want 403", status)
	}
}

func TestStaleVersionGetsConflictOverHTTP(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "maria.qm", "s3cure pass", "quality_manager")
	c := env.login(t, "maria.qm", "s3cure pass")

	created := c.must("POST", "/api/events/", map[string]any{
		"title":       "Humidity excursion in warehouse",
		"description": "Warehouse B logged six hours above the allowed humidity band.",
		"category":    "storage",
	}, http.StatusCreated)
	eventID := recordID(t, created, "id")

	c.must("POST", fmt.Sprintf("/api/events/%d/transition", eventID), map[string]any{
		"action": "submit", "expected_version": 1,
	}, http.StatusOK)
	status, body := c.do("POST", fmt.Sprintf("/api/events/%d/transition", eventID), map[string]any{
		"action": "triage", "expected_version": 1,
	})
	if status != http.StatusConflict {
		t.Fatalf("stale transition status %d (%v)", status, body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "maria.qm", "s3cure pass", "quality_manager")

	body, _ := json.Marshal(map[string]string{"username": "maria.qm", "password": "wrong"})
	resp, err := env.server.Client().Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials status %d", resp.StatusCode)
	}
}
