package app

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/webguard/internal/action"
	"github.com/odyssey-erp/webguard/internal/observability"
	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Registry       *action.Registry
	Dispatcher     *action.Dispatcher
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router. Every registered action is mounted on
// the dispatcher, which also answers requests chi cannot match. The registry
// is frozen once mounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		metricsRole := ""
		if params.Config != nil {
			metricsRole = params.Config.MetricsRole
		}
		r.With(params.RBACMiddleware.RequireAll(metricsRole)).
			Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.Registry != nil && params.Dispatcher != nil {
		for _, route := range params.Registry.Routes() {
			if !mountable(route.Path) {
				continue
			}
			r.Method(route.Method, route.Path, params.Dispatcher)
		}
		params.Registry.Freeze()
		r.NotFound(params.Dispatcher.ServeHTTP)
		r.MethodNotAllowed(params.Dispatcher.ServeHTTP)
	}

	return r
}

// mountable reports whether path can be handed to chi verbatim. Paths carrying
// chi pattern syntax stay reachable through the NotFound fallback.
func mountable(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.ContainsAny(path, "{*")
}
