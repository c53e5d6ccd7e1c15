package rbac

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
)

// RoleSource lists persisted roles.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]Role, error)
}

// EffectiveRole is the resolved view of one role.
type EffectiveRole struct {
	Name        string          `json:"name"`
	Permissions map[string]bool `json:"permissions"`
	Routes      []string        `json:"routes"`
	BuiltIn     bool            `json:"isSystemRole"`
}

// Service holds the role->permission and route->roles matrices.
// It is safe for concurrent use.
type Service struct {
	mu       sync.RWMutex
	defaults Table
	roles    map[string]Role
	routes   map[string][]string
}

func New(defaults Table) *Service {
	s := &Service{defaults: defaults}
	s.roles, s.routes = build(defaults, nil)
	return s
}

// Sync rebuilds the tables from the defaults plus every persisted role.
// On error the current tables are kept.
func (s *Service) Sync(ctx context.Context, src RoleSource) error {
	persisted, err := src.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	if len(persisted) == 0 {
		log.Printf("WARN: no persisted roles, using built-in role table")
	}

	roles, routes := build(s.defaults, persisted)

	s.mu.Lock()
	s.roles = roles
	s.routes = routes
	s.mu.Unlock()
	return nil
}

func build(defaults Table, persisted []Role) (map[string]Role, map[string][]string) {
	roles := make(map[string]Role)
	routes := make(map[string][]string, len(defaults.Routes))
	for path, allowed := range defaults.Routes {
		routes[path] = slices.Clone(allowed)
	}
	for _, r := range defaults.Roles {
		roles[normalize(r.Name)] = r
	}
	for _, r := range persisted {
		apply(roles, routes, r)
	}
	return roles, routes
}

// apply overlays one role: its permissions replace any previous entry, and it
// is removed from every route allow-list before being added to its own routes.
func apply(roles map[string]Role, routes map[string][]string, r Role) {
	name := normalize(r.Name)
	if name == "" {
		return
	}
	r.Name = name
	roles[name] = r

	for path, allowed := range routes {
		routes[path] = slices.DeleteFunc(allowed, func(a string) bool { return a == name })
	}

	if slices.Contains(r.Routes, "*") {
		for path, allowed := range routes {
			routes[path] = append(allowed, name)
		}
		return
	}
	for _, path := range r.Routes {
		if !slices.Contains(routes[path], name) {
			routes[path] = append(routes[path], name)
		}
	}
}

// HasPermission reports whether role may perform the CRUD action perm.
func (s *Service) HasPermission(role, perm string) bool {
	name := normalize(role)
	switch name {
	case "":
		return false
	case RoleSuperadmin:
		return true
	case RoleDemo:
		return perm == PermRead
	}

	s.mu.RLock()
	r, ok := s.roles[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Permissions.allows(perm)
}

func (p Permissions) allows(perm string) bool {
	switch perm {
	case PermCreate:
		return p.Create != nil && *p.Create
	case PermRead:
		// Unspecified read is granted.
		return p.Read == nil || *p.Read
	case PermUpdate:
		return p.Update != nil && *p.Update
	case PermDelete:
		return p.Delete != nil && *p.Delete
	}
	return false
}

// HasRouteAccess reports whether role may open path.
func (s *Service) HasRouteAccess(role, path string) bool {
	name := normalize(role)
	if name == RoleSuperadmin {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[name]
	if !ok {
		return false
	}
	if allowed, listed := s.routes[path]; listed && !slices.Contains(allowed, name) {
		return false
	}
	for _, pattern := range r.Routes {
		if pattern == "*" || MatchRoute(pattern, path) {
			return true
		}
	}
	return false
}

// MatchRoute matches path against pattern, where the first '*' in pattern
// stands for any (possibly empty) substring.
func MatchRoute(pattern, path string) bool {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern == path
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(path) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(path, prefix) &&
		strings.HasSuffix(path, suffix)
}

// Roles returns the effective roles sorted by name.
func (s *Service) Roles() []EffectiveRole {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EffectiveRole, 0, len(s.roles))
	for name, r := range s.roles {
		perms := make(map[string]bool, 4)
		for _, p := range []string{PermCreate, PermRead, PermUpdate, PermDelete} {
			perms[p] = s.permissionLocked(name, r, p)
		}
		out = append(out, EffectiveRole{
			Name:        name,
			Permissions: perms,
			Routes:      slices.Clone(r.Routes),
			BuiltIn:     IsBuiltIn(name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) permissionLocked(name string, r Role, perm string) bool {
	switch name {
	case RoleSuperadmin:
		return true
	case RoleDemo:
		return perm == PermRead
	}
	return r.Permissions.allows(perm)
}

// Routes returns a copy of the route allow-lists.
func (s *Service) Routes() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.routes))
	for path, allowed := range s.routes {
		out[path] = slices.Clone(allowed)
	}
	return out
}

// Known reports whether role exists in the current table.
func (s *Service) Known(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roles[normalize(role)]
	return ok
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
