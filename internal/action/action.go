// Package action runs registered units of request-handling logic behind a
// fixed sequence of method, CSRF and role gates.
package action

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// HandlerFunc is the business logic of an action. Returning an error that
// matches ErrSecurityViolation rejects the request with 403.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params []any) error

// Hook runs before or after the handler.
type Hook func(w http.ResponseWriter, r *http.Request, params []any) error

// Plain adapts a handler that takes no extra params.
func Plain(fn func(w http.ResponseWriter, r *http.Request) error) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ []any) error {
		return fn(w, r)
	}
}

// Action is created once at startup and shared by all requests. It is never
// mutated after construction.
type Action struct {
	name    string
	method  string
	roles   rbac.RoleSet
	handler HandlerFunc
	preRun  Hook
	postRun Hook
}

// Option configures an Action.
type Option func(*Action)

// WithName sets the diagnostic name.
func WithName(name string) Option {
	return func(a *Action) { a.name = strings.TrimSpace(name) }
}

// WithMethod restricts the action to one HTTP method.
func WithMethod(method string) Option {
	return func(a *Action) { a.method = strings.ToUpper(strings.TrimSpace(method)) }
}

// WithRoles sets the required role set.
func WithRoles(roles rbac.RoleSet) Option {
	return func(a *Action) { a.roles = roles }
}

// WithPreRun installs a hook that runs after all gates passed.
func WithPreRun(h Hook) Option {
	return func(a *Action) { a.preRun = h }
}

// WithPostRun installs a hook that runs after a successful handler.
func WithPostRun(h Hook) Option {
	return func(a *Action) { a.postRun = h }
}

// New builds an Action around handler.
func New(handler HandlerFunc, opts ...Option) (*Action, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: action handler required", shared.ErrInvalidArgument)
	}
	a := &Action{handler: handler}
	for _, opt := range opts {
		opt(a)
	}
	if a.method != "" && !SupportedMethod(a.method) {
		return nil, fmt.Errorf("%w: unsupported method %q", shared.ErrInvalidArgument, a.method)
	}
	return a, nil
}

// MustNew is New for static startup wiring; it panics on error.
func MustNew(handler HandlerFunc, opts ...Option) *Action {
	a, err := New(handler, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Name returns the diagnostic name.
func (a *Action) Name() string { return a.name }

// Method returns the required method, or "" when any method is accepted.
func (a *Action) Method() string { return a.method }

// Roles returns the required role set.
func (a *Action) Roles() rbac.RoleSet { return a.roles }

// Public reports whether the action has no role restriction.
func (a *Action) Public() bool { return a.roles.Empty() }

func (a *Action) String() string {
	if a.name != "" {
		return a.name
	}
	return fmt.Sprintf("action(method=%q roles=%s)", a.method, a.roles)
}
