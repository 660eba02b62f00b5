package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kestrel-qms/api/handlers"
	"kestrel-qms/api/routegroups"
	"kestrel-qms/core/rbac"
)

type routeHandlers struct {
	auth      *handlers.AuthHandler
	events    *handlers.EventsHandler
	incidents *handlers.IncidentsHandler
	risk      *handlers.RiskHandler
	dashboard *handlers.DashboardHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:      handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.audits, s.logger),
		events:    handlers.NewEventsHandler(s.cfg, s.events, s.incidents, s.workflow, s.audits, s.logger),
		incidents: handlers.NewIncidentsHandler(s.cfg, s.incidents, s.workflow, s.audits, s.logger),
		risk:      handlers.NewRiskHandler(),
		dashboard: handlers.NewDashboardHandler(s.workflow, s.audits),
	}
}

func (s *Server) buildRouter() chi.Router {
	h := s.newRouteHandlers()
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)

		apiRouter.MethodFunc("POST", "/auth/login", s.rateLimitedLogin(h.auth.Login))
		apiRouter.MethodFunc("POST", "/auth/logout", s.withSession(h.auth.Logout))
		apiRouter.MethodFunc("GET", "/auth/me", s.withSession(h.auth.Me))
		apiRouter.MethodFunc("POST", "/auth/ping", s.withSession(h.auth.Ping))

		guards := routegroups.Guards{
			WithSession:       s.withSession,
			RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc { return s.requirePermission(rbac.Permission(p)) },
		}
		routegroups.RegisterEvents(apiRouter, guards, h.events)
		routegroups.RegisterIncidents(apiRouter, guards, h.incidents)

		apiRouter.MethodFunc("POST", "/risk/compute", guards.SessionPerm("risk.score", h.risk.Compute))
		apiRouter.MethodFunc("GET", "/dashboard/summary", guards.SessionPerm("dashboard.view", h.dashboard.Summary))
		apiRouter.MethodFunc("GET", "/audit", guards.SessionPerm("audit.view", h.dashboard.AuditLog))
	})

	r.MethodFunc("GET", "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return r
}

func (s *Server) rateLimitedLogin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.loginLimiter.allow(host) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	}
}
