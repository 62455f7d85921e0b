package app

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/webguard/internal/action"
	"github.com/odyssey-erp/webguard/internal/auth"
	"github.com/odyssey-erp/webguard/internal/observability"
	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// ServerDeps groups what NewServer needs from the process.
type ServerDeps struct {
	Config   *Config
	Logger   *slog.Logger
	Redis    redis.UniversalClient
	Security *Security
	Metrics  *observability.Metrics
}

// Server is the assembled HTTP surface.
type Server struct {
	handler  http.Handler
	registry *action.Registry
	active   atomic.Bool
}

// NewServer wires sessions, CSRF, the role tree and the action pipeline into
// one http.Handler.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Config == nil || deps.Redis == nil || deps.Security == nil {
		return nil, errors.New("app: config, redis and security required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	sessionManager := shared.NewSessionManager(deps.Redis, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFTokenLength)
	binding := auth.NewBinding(csrfManager)

	authService := auth.NewService(deps.Security.Users)
	authHandler := auth.NewHandler(logger, authService, binding)
	authorizer := rbac.NewAuthorizer(deps.Security.Roles)

	var observer action.Observer
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	pipeline := action.NewPipeline(action.PipelineConfig{
		Identities: binding,
		Tokens:     csrfManager,
		Authorizer: authorizer,
		Observer:   observer,
		Logger:     logger,
	})

	registry := action.NewRegistry()
	if err := RegisterActions(registry, deps.Security.Roles, authHandler); err != nil {
		return nil, err
	}

	s := &Server{registry: registry}
	s.active.Store(true)

	dispatcher := &action.Dispatcher{
		Registry: registry,
		Pipeline: pipeline,
		Logger:   logger,
		Active:   s.active.Load,
	}

	s.handler = NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Registry:       registry,
		Dispatcher:     dispatcher,
		RBACMiddleware: rbac.Middleware{
			Authorizer: authorizer,
			Principal:  sessionPrincipal(binding),
			Logger:     logger,
		},
		Metrics: deps.Metrics,
	})
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the frozen dispatch table.
func (s *Server) Registry() *action.Registry {
	return s.registry
}

// Drain makes actions answer 503 while in-flight requests finish.
func (s *Server) Drain() {
	s.active.Store(false)
}

func sessionPrincipal(binding *auth.Binding) rbac.PrincipalFunc {
	return func(r *http.Request) (rbac.Principal, error) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			return nil, nil
		}
		id, err := binding.Identity(sess)
		if err != nil || id == nil {
			return nil, err
		}
		return id, nil
	}
}
