package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// IdentityAttribute is the RequestContext attribute holding the identity of
// the current request.
const IdentityAttribute = "action.identity"

// IdentityResolver reads the identity bound to a session.
type IdentityResolver interface {
	Identity(sess shared.Attributes) (*rbac.Identity, error)
}

// TokenVerifier checks the anti-forgery token of a request.
type TokenVerifier interface {
	Verify(r *http.Request, sess shared.Attributes) error
}

// Decider makes the role decision.
type Decider interface {
	Allowed(required rbac.RoleSet, p rbac.Principal) bool
}

// Observer is notified about rejected requests.
type Observer interface {
	ObserveRejection(gate string, reason string)
}

// PipelineConfig groups the collaborators of a Pipeline.
type PipelineConfig struct {
	Identities IdentityResolver
	Tokens     TokenVerifier
	Authorizer Decider
	Observer   Observer
	Logger     *slog.Logger
}

// Pipeline executes actions through the gate sequence
// method -> CSRF -> authorization -> preRun -> handler -> postRun.
type Pipeline struct {
	identities IdentityResolver
	tokens     TokenVerifier
	authz      Decider
	observer   Observer
	logger     *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		identities: cfg.Identities,
		tokens:     cfg.Tokens,
		authz:      cfg.Authorizer,
		observer:   cfg.Observer,
		logger:     logger,
	}
}

type identityContextKey struct{}

// IdentityFromContext returns the identity resolved by the pipeline, or nil
// for anonymous callers.
func IdentityFromContext(ctx context.Context) *rbac.Identity {
	id, _ := ctx.Value(identityContextKey{}).(*rbac.Identity)
	return id
}

// Execute runs a against the request. It returns nil on success, a
// *MethodNotAllowedError, a *SecurityError, or an unrelated handler error
// unchanged.
func (p *Pipeline) Execute(w http.ResponseWriter, r *http.Request, a *Action, params ...any) error {
	if a == nil || w == nil || r == nil {
		return fmt.Errorf("%w: action, response and request required", shared.ErrInvalidArgument)
	}

	stage := StageReceived
	sess := sessionOf(r)
	identity, err := p.identity(sess)
	if err != nil {
		return err
	}
	var principal rbac.Principal
	if identity != nil {
		principal = identity
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		_ = shared.RequestContextFrom(ctx).SetAttribute(IdentityAttribute, identity)
		r = r.WithContext(ctx)
	}
	shared.RequestContextFrom(r.Context()).Rebind(w, r)

	if a.method != "" && r.Method != a.method {
		p.rejected(r, a, "method", "method not allowed")
		return &MethodNotAllowedError{
			Request:  r,
			Response: w,
			Params:   params,
			Message:  fmt.Sprintf("method %s not allowed, expected %s", r.Method, a.method),
			Stage:    stage,
		}
	}
	stage = StageMethodChecked

	if !a.roles.Empty() {
		if err := p.verifyToken(r, sess); err != nil {
			p.rejected(r, a, "csrf", string(ReasonInvalidCSRF))
			return &SecurityError{
				Reason:   ReasonInvalidCSRF,
				Request:  r,
				Response: w,
				Params:   params,
				Message:  "Invalid CSRF token",
				Stage:    stage,
				Err:      err,
			}
		}
	}
	stage = StageCSRFChecked

	if !p.allowed(a.roles, principal) {
		p.rejected(r, a, "authorization", string(ReasonForbidden))
		return &SecurityError{
			Reason:   ReasonForbidden,
			Request:  r,
			Response: w,
			Params:   params,
			Message:  "forbidden",
			Stage:    stage,
		}
	}
	stage = StageAuthorizationChecked

	if a.preRun != nil {
		if err := a.preRun(w, r, params); err != nil {
			return p.wrap(w, r, a, params, stage, err)
		}
	}
	if err := a.handler(w, r, params); err != nil {
		return p.wrap(w, r, a, params, stage, err)
	}
	stage = StageExecuted
	if a.postRun != nil {
		if err := a.postRun(w, r, params); err != nil {
			return p.wrap(w, r, a, params, stage, err)
		}
	}
	stage = StageCompleted
	p.logger.Debug("action completed",
		slog.String("path", r.URL.Path),
		slog.String("action", a.String()),
		slog.String("stage", stage.String()),
	)
	return nil
}

func (p *Pipeline) identity(sess shared.Attributes) (*rbac.Identity, error) {
	if p.identities == nil || sess == nil {
		return nil, nil
	}
	return p.identities.Identity(sess)
}

func (p *Pipeline) verifyToken(r *http.Request, sess shared.Attributes) error {
	if p.tokens == nil {
		return shared.ErrCSRFTokenMissing
	}
	return p.tokens.Verify(r, sess)
}

func (p *Pipeline) allowed(required rbac.RoleSet, principal rbac.Principal) bool {
	if p.authz == nil {
		return required.Empty()
	}
	return p.authz.Allowed(required, principal)
}

// wrap maps security violations raised by business logic onto SecurityError
// and leaves every other error untouched.
func (p *Pipeline) wrap(w http.ResponseWriter, r *http.Request, a *Action, params []any, stage Stage, err error) error {
	var se *SecurityError
	if errors.As(err, &se) {
		p.rejected(r, a, "handler", string(se.Reason))
		return se
	}
	if !errors.Is(err, ErrSecurityViolation) {
		return err
	}
	p.rejected(r, a, "handler", string(ReasonViolation))
	return &SecurityError{
		Reason:   ReasonViolation,
		Request:  r,
		Response: w,
		Params:   params,
		Message:  err.Error(),
		Stage:    stage,
		Err:      err,
	}
}

func (p *Pipeline) rejected(r *http.Request, a *Action, gate, reason string) {
	p.logger.Warn("action rejected",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.String("action", a.String()),
		slog.String("gate", gate),
		slog.String("reason", reason),
	)
	if p.observer != nil {
		p.observer.ObserveRejection(gate, reason)
	}
}

// sessionOf avoids handing a typed nil *Session to collaborators.
func sessionOf(r *http.Request) shared.Attributes {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil
	}
	return sess
}
