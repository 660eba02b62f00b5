package routegroups

import (
	"github.com/go-chi/chi/v5"

	"kestrel-qms/api/handlers"
)

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler) {
	apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.SessionPerm("incidents.view", incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.SessionPerm("incidents.create", incidents.Create))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("incidents.view", incidents.Get))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("incidents.edit", incidents.Update))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("incidents.delete", incidents.Delete))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/transition", g.SessionPerm("incidents.transition", incidents.Transition))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/actions", g.SessionPerm("incidents.view", incidents.ListActions))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/actions", g.SessionPerm("incidents.actions.manage", incidents.AddAction))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/actions/{action_id:[0-9]+}", g.SessionPerm("incidents.actions.manage", incidents.UpdateAction))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}/actions/{action_id:[0-9]+}", g.SessionPerm("incidents.actions.manage", incidents.DeleteAction))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/actions/{action_id:[0-9]+}/verify", g.SessionPerm("incidents.verify", incidents.VerifyAction))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/effectiveness", g.SessionPerm("incidents.view", incidents.Effectiveness))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/timeline", g.SessionPerm("incidents.view", incidents.Timeline))
	})
}
