package rbac

import (
	"net/http"

	"log/slog"
)

// PrincipalFunc resolves the principal of a request; a nil principal means
// anonymous.
type PrincipalFunc func(r *http.Request) (Principal, error)

// Middleware wires RBAC authorization helpers for plain HTTP handlers that are
// not registered as actions.
type Middleware struct {
	Authorizer Authorizer
	Principal  PrincipalFunc
	Logger     *slog.Logger
}

// RequireAny ensures the current user satisfies at least one of the roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	sets := make([]RoleSet, 0, len(roles))
	for _, name := range NewRoleSet(roles...).Names() {
		sets = append(sets, NewRoleSet(name))
	}
	return m.require(sets, "rbac require any")
}

// RequireAll ensures the current user satisfies every role.
func (m Middleware) RequireAll(roles ...string) func(http.Handler) http.Handler {
	set := NewRoleSet(roles...)
	if set.Empty() {
		return m.require(nil, "rbac require all")
	}
	return m.require([]RoleSet{set}, "rbac require all")
}

// require passes when any of the sets is allowed; no sets means no restriction.
func (m Middleware) require(sets []RoleSet, op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(sets) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			var principal Principal
			if m.Principal != nil {
				p, err := m.Principal(r)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error(op, slog.Any("error", err))
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				principal = p
			}
			for _, set := range sets {
				if m.Authorizer.Allowed(set, principal) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
