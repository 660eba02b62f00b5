package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/rbac"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
	"kestrel-qms/core/workflow"
)

// BackgroundWorker is anything the server starts alongside the listener and
// stops on shutdown.
type BackgroundWorker interface {
	Start() error
	Stop()
}

type ServerDeps struct {
	Users          store.UsersStore
	Sessions       store.SessionStore
	Events         store.EventsStore
	Incidents      store.IncidentsStore
	Audits         store.AuditStore
	Policy         *rbac.Policy
	SessionManager *auth.SessionManager
	Workflow       *workflow.Service
}

type Server struct {
	cfg             *config.AppConfig
	logger          *utils.Logger
	router          chi.Router
	users           store.UsersStore
	sessions        store.SessionStore
	events          store.EventsStore
	incidents       store.IncidentsStore
	audits          store.AuditStore
	policy          *rbac.Policy
	sessionManager  *auth.SessionManager
	workflow        *workflow.Service
	activityTracker *sessionActivity
	loginLimiter    *requestLimiter
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	s := &Server{
		cfg:             cfg,
		logger:          logger,
		users:           deps.Users,
		sessions:        deps.Sessions,
		events:          deps.Events,
		incidents:       deps.Incidents,
		audits:          deps.Audits,
		policy:          deps.Policy,
		sessionManager:  deps.SessionManager,
		workflow:        deps.Workflow,
		activityTracker: newSessionActivity(),
		loginLimiter:    newLimiter(10, time.Minute),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
