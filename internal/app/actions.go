package app

import (
	"fmt"
	"net/http"

	"github.com/odyssey-erp/webguard/internal/action"
	"github.com/odyssey-erp/webguard/internal/auth"
	"github.com/odyssey-erp/webguard/internal/rbac"
)

// Role names referenced by the bundled actions.
const (
	RoleSecured      = "secured"
	RoleExtraSecured = "extra-secured"
)

// RegisterActions fills reg with the login/logout actions and the greeting
// actions guarded by the role tree.
func RegisterActions(reg *action.Registry, roles *rbac.Repository, authHandler *auth.Handler) error {
	login, err := action.New(action.Plain(authHandler.Login),
		action.WithName("login"),
		action.WithMethod(http.MethodPost),
	)
	if err != nil {
		return err
	}
	logout, err := action.New(action.Plain(authHandler.Logout), action.WithName("logout"))
	if err != nil {
		return err
	}
	public, err := action.New(greet, action.WithName("public"))
	if err != nil {
		return err
	}

	secured, err := guarded("secured", roles, RoleSecured)
	if err != nil {
		return err
	}
	extraSecured, err := guarded("extra-secured", roles, RoleExtraSecured)
	if err != nil {
		return err
	}

	routes := []action.Route{
		// GET is registered so the action itself answers 405.
		{Method: http.MethodGet, Path: "/login", Action: login},
		{Method: http.MethodPost, Path: "/login", Action: login},
		{Method: http.MethodGet, Path: "/logout", Action: logout},
		{Method: http.MethodGet, Path: "/public", Action: public},
		{Method: http.MethodGet, Path: "/secured", Action: secured},
		{Method: http.MethodPost, Path: "/secured", Action: secured},
		{Method: http.MethodGet, Path: "/extra-secured", Action: extraSecured},
		{Method: http.MethodPost, Path: "/extra-secured", Action: extraSecured},
	}
	for _, route := range routes {
		if err := reg.Register(route.Action, route.Method, route.Path); err != nil {
			return err
		}
	}
	return nil
}

func guarded(name string, roles *rbac.Repository, required ...string) (*action.Action, error) {
	set, err := roles.RequiredSet(required...)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	return action.New(greet, action.WithName(name), action.WithRoles(set))
}

func greet(w http.ResponseWriter, r *http.Request, _ []any) error {
	name := "<anonymous>"
	if id := action.IdentityFromContext(r.Context()); id != nil {
		name = id.Subject
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := fmt.Fprintf(w, "Hi %s\n", name)
	return err
}
