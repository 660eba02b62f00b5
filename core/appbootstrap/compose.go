package appbootstrap

import (
	"database/sql"

	"kestrel-qms/api"
	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/rbac"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
	"kestrel-qms/core/workflow"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	events := store.NewEventsStore(db)
	incidents := store.NewIncidentsStore(db)
	audits := store.NewAuditStore(db)

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	workflowSvc := workflow.NewService(cfg, events, incidents, audits, logger)
	sweeper := workflow.NewSweeper(cfg.Sweeper, events, incidents, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Users:          users,
			Sessions:       sessions,
			Events:         events,
			Incidents:      incidents,
			Audits:         audits,
			Policy:         policy,
			SessionManager: sessionManager,
			Workflow:       workflowSvc,
		},
		workers: []api.BackgroundWorker{sweeper},
	}, nil
}
