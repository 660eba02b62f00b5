package rbac

import (
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
)

// Permission names follow the "area.verb" convention, e.g. "events.transition".
type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const policyModel = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.perm == p.perm
`

// Policy answers permission checks for a fixed role grant table. Grants are
// loaded once at startup; Reload swaps in a new table atomically.
type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	if err := p.Reload(roles); err != nil {
		panic(fmt.Sprintf("rbac: load policy: %v", err))
	}
	return p
}

func (p *Policy) Reload(roles []Role) error {
	m, err := casbinmodel.NewModelFromString(policyModel)
	if err != nil {
		return err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return err
	}
	for _, role := range roles {
		for _, perm := range role.Permissions {
			if _, err := e.AddPolicy(role.Name, string(perm)); err != nil {
				return err
			}
		}
	}
	p.mu.Lock()
	p.enforcer = e
	p.mu.Unlock()
	return nil
}

// Allowed reports whether any of the given roles grants the permission.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	p.mu.RLock()
	e := p.enforcer
	p.mu.RUnlock()
	if e == nil {
		return false
	}
	for _, role := range roles {
		ok, err := e.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultRoles is the built-in grant table. The admin role additionally
// holds every permission listed here.
func DefaultRoles() []Role {
	viewer := []Permission{
		"events.view", "incidents.view", "dashboard.view",
	}
	analyst := append([]Permission{
		"events.create", "events.edit", "events.transition",
		"incidents.actions.manage", "risk.score",
	}, viewer...)
	qualityManager := append([]Permission{
		"events.escalate", "events.delete",
		"incidents.create", "incidents.edit", "incidents.transition",
		"incidents.verify", "incidents.delete",
		"audit.view",
	}, analyst...)
	admin := append([]Permission{
		"accounts.manage", "sessions.manage",
	}, qualityManager...)
	return []Role{
		{Name: "viewer", Permissions: viewer},
		{Name: "analyst", Permissions: analyst},
		{Name: "quality_manager", Permissions: qualityManager},
		{Name: "admin", Permissions: admin},
	}
}
