package rbac

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrDuplicateRole reports a role registered twice, directly or through
	// containment.
	ErrDuplicateRole = errors.New("rbac: duplicate role")
	// ErrRoleNotFound reports an unknown role name.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrInvalidRole reports a blank role name.
	ErrInvalidRole = errors.New("rbac: role name required")
)

// Satisfier decides whether granted roles cover required roles, honoring
// hierarchical containment.
type Satisfier interface {
	IsSatisfiedBy(required, granted []string) bool
}

// Role is a named node of the containment graph.
type Role struct {
	Name     string
	children []string
}

// Children returns the direct child role names.
func (r Role) Children() []string {
	out := make([]string, len(r.children))
	copy(out, r.children)
	return out
}

// Repository holds the role containment graph. A parent role satisfies all
// of its descendants. The graph stays acyclic and no role is reachable from a
// parent more than once.
type Repository struct {
	mu    sync.RWMutex
	roles map[string]*Role
	order []string
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{roles: make(map[string]*Role)}
}

// Create registers a role.
func (r *Repository) Create(name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, ErrInvalidRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; ok {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRole, name)
	}
	role := &Role{Name: name}
	r.roles[name] = role
	r.order = append(r.order, name)
	return *role, nil
}

// Get looks up a role by name.
func (r *Repository) Get(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return Role{}, false
	}
	return Role{Name: role.Name, children: role.Children()}, true
}

// Names lists role names in registration order.
func (r *Repository) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// AddChild declares that satisfying parent also satisfies child.
func (r *Repository) AddChild(parent, child string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.roles[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, parent)
	}
	if _, ok := r.roles[child]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, child)
	}
	if r.containsLocked(parent, child) {
		return fmt.Errorf("%w: %s already contained by %s", ErrDuplicateRole, child, parent)
	}
	if r.containsLocked(child, parent) {
		return fmt.Errorf("%w: %s contains %s", ErrDuplicateRole, child, parent)
	}
	p.children = append(p.children, child)
	return nil
}

// Contains reports whether ancestor equals descendant or reaches it through
// child links.
func (r *Repository) Contains(ancestor, descendant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containsLocked(ancestor, descendant)
}

func (r *Repository) containsLocked(ancestor, descendant string) bool {
	if ancestor == descendant {
		return true
	}
	seen := make(map[string]struct{})
	stack := []string{ancestor}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		role, ok := r.roles[name]
		if !ok {
			continue
		}
		for _, c := range role.children {
			if c == descendant {
				return true
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			stack = append(stack, c)
		}
	}
	return false
}

// IsSatisfiedBy reports whether every required role is equal to, or
// contained by, at least one granted role.
func (r *Repository) IsSatisfiedBy(required, granted []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, need := range required {
		ok := false
		for _, have := range granted {
			if r.containsLocked(have, need) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// RequiredSet validates names against the graph and returns them as a
// RoleSet. A role listed twice, or listed alongside one of its ancestors, is
// rejected.
func (r *Repository) RequiredSet(names ...string) (RoleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return RoleSet{}, ErrInvalidRole
		}
		if _, ok := r.roles[n]; !ok {
			return RoleSet{}, fmt.Errorf("%w: %s", ErrRoleNotFound, n)
		}
		for _, prev := range clean {
			if r.containsLocked(prev, n) || r.containsLocked(n, prev) {
				return RoleSet{}, fmt.Errorf("%w: %s overlaps %s", ErrDuplicateRole, n, prev)
			}
		}
		clean = append(clean, n)
	}
	return NewRoleSet(clean...), nil
}

var _ Satisfier = (*Repository)(nil)
