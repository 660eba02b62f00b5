package routegroups

import (
	"github.com/go-chi/chi/v5"

	"kestrel-qms/api/handlers"
)

func RegisterEvents(apiRouter chi.Router, g Guards, events *handlers.EventsHandler) {
	apiRouter.Route("/events", func(eventsRouter chi.Router) {
		eventsRouter.MethodFunc("GET", "/", g.SessionPerm("events.view", events.List))
		eventsRouter.MethodFunc("POST", "/", g.SessionPerm("events.create", events.Create))
		eventsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("events.view", events.Get))
		eventsRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("events.edit", events.Update))
		eventsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("events.delete", events.Delete))
		eventsRouter.MethodFunc("POST", "/{id:[0-9]+}/restore", g.SessionPerm("events.delete", events.Restore))
		eventsRouter.MethodFunc("POST", "/{id:[0-9]+}/transition", g.SessionPerm("events.transition", events.Transition))
		eventsRouter.MethodFunc("POST", "/{id:[0-9]+}/escalate", g.SessionPerm("events.escalate", events.Escalate))
		eventsRouter.MethodFunc("POST", "/{id:[0-9]+}/risk", g.SessionPerm("risk.score", events.Risk))
		eventsRouter.MethodFunc("GET", "/{id:[0-9]+}/timeline", g.SessionPerm("events.view", events.Timeline))
	})
}
