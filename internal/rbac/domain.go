package rbac

import (
	"sort"
	"strings"
)

// Principal describes the authenticated actor.
type Principal interface {
	IsAdmin() bool
	RoleNames() []string
}

// Identity is the principal bound to a session.
type Identity struct {
	Subject string   `json:"subject"`
	Admin   bool     `json:"admin"`
	Roles   []string `json:"roles"`
}

// IsAdmin reports the admin override flag.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Admin
}

// RoleNames returns the granted role names.
func (i *Identity) RoleNames() []string {
	if i == nil {
		return nil
	}
	out := make([]string, len(i.Roles))
	copy(out, i.Roles)
	return out
}

var _ Principal = (*Identity)(nil)

// RoleSet is an immutable set of required role names. The zero value means no
// role restriction.
type RoleSet struct {
	names []string
}

// NewRoleSet builds a RoleSet from names, trimming blanks and duplicates.
// Use Repository.RequiredSet for a set validated against the role tree.
func NewRoleSet(names ...string) RoleSet {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return RoleSet{names: out}
}

// Empty reports whether the set imposes no restriction.
func (s RoleSet) Empty() bool {
	return len(s.names) == 0
}

// Len returns the number of required roles.
func (s RoleSet) Len() int {
	return len(s.names)
}

// Names returns a copy of the role names in sorted order.
func (s RoleSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Has reports whether name is part of the set.
func (s RoleSet) Has(name string) bool {
	i := sort.SearchStrings(s.names, name)
	return i < len(s.names) && s.names[i] == name
}

func (s RoleSet) String() string {
	return "{" + strings.Join(s.names, ",") + "}"
}
