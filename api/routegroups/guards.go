package routegroups

import "net/http"

// Guards bundles the middleware a route group needs: session resolution and
// a permission check. Every registered handler must go through SessionPerm.
type Guards struct {
	WithSession       func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) SessionPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(h))
}
