package action

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/webguard/internal/shared"
)

var supportedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodTrace:   {},
}

// SupportedMethod reports whether method can be registered.
func SupportedMethod(method string) bool {
	_, ok := supportedMethods[method]
	return ok
}

// Route is one entry of the dispatch table.
type Route struct {
	Method string
	Path   string
	Action *Action
}

// Registry maps (method, path) to actions. It is filled once at startup and
// frozen before serving; lookups after Freeze take no lock.
type Registry struct {
	mu       sync.RWMutex
	frozen   atomic.Bool
	byMethod map[string]map[string]*Action
	routes   []Route
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byMethod: make(map[string]map[string]*Action)}
}

// Register associates a with method and path. The path is trimmed.
func (reg *Registry) Register(a *Action, method, path string) error {
	if a == nil {
		return fmt.Errorf("%w: action == nil", shared.ErrInvalidArgument)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("%w: method required", shared.ErrInvalidArgument)
	}
	if !SupportedMethod(method) {
		return fmt.Errorf("%w: unsupported method %q", shared.ErrInvalidArgument, method)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: path required", shared.ErrInvalidArgument)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.frozen.Load() {
		return fmt.Errorf("%w: %s %s", ErrRegistryFrozen, method, path)
	}
	paths, ok := reg.byMethod[method]
	if !ok {
		paths = make(map[string]*Action)
		reg.byMethod[method] = paths
	}
	if _, dup := paths[path]; dup {
		return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, method, path)
	}
	paths[path] = a
	reg.routes = append(reg.routes, Route{Method: method, Path: path, Action: a})
	return nil
}

// MustRegister is Register for startup code; a conflict aborts the process.
func (reg *Registry) MustRegister(a *Action, method, path string) {
	if err := reg.Register(a, method, path); err != nil {
		panic(err)
	}
}

// Resolve returns the action for method and path. A miss is not an error.
func (reg *Registry) Resolve(method, path string) (*Action, bool) {
	if !reg.frozen.Load() {
		reg.mu.RLock()
		defer reg.mu.RUnlock()
	}
	paths, ok := reg.byMethod[method]
	if !ok {
		return nil, false
	}
	a, ok := paths[path]
	return a, ok
}

// Routes lists entries in registration order.
func (reg *Registry) Routes() []Route {
	if !reg.frozen.Load() {
		reg.mu.RLock()
		defer reg.mu.RUnlock()
	}
	out := make([]Route, len(reg.routes))
	copy(out, reg.routes)
	return out
}

// Freeze makes the table read-only.
func (reg *Registry) Freeze() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen.Store(true)
}

// Frozen reports whether Freeze ran.
func (reg *Registry) Frozen() bool {
	return reg.frozen.Load()
}
