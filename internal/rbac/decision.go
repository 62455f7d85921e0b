package rbac

// Authorizer makes the allow/deny decision for a required role set.
type Authorizer struct {
	Roles Satisfier
}

// NewAuthorizer returns an Authorizer delegating containment to roles.
func NewAuthorizer(roles Satisfier) Authorizer {
	return Authorizer{Roles: roles}
}

// Allowed applies, in order: an empty set allows anyone, an absent principal
// is denied, admins are allowed, otherwise every required role must be
// satisfied by the granted roles.
func (a Authorizer) Allowed(required RoleSet, p Principal) bool {
	if required.Empty() {
		return true
	}
	if isNilPrincipal(p) {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	granted := p.RoleNames()
	if a.Roles == nil {
		return hasAllRoles(granted, required.names)
	}
	return a.Roles.IsSatisfiedBy(required.names, granted)
}

func isNilPrincipal(p Principal) bool {
	if p == nil {
		return true
	}
	if id, ok := p.(*Identity); ok && id == nil {
		return true
	}
	return false
}

func hasAllRoles(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
