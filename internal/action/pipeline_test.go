package action_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/webguard/internal/action"
	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

type fakeIdentities struct {
	id  *rbac.Identity
	err error
}

func (f fakeIdentities) Identity(shared.Attributes) (*rbac.Identity, error) {
	return f.id, f.err
}

type fakeTokens struct {
	err   error
	trace *[]string
}

func (f fakeTokens) Verify(*http.Request, shared.Attributes) error {
	if f.trace != nil {
		*f.trace = append(*f.trace, "csrf")
	}
	return f.err
}

type tracingDecider struct {
	rbac.Authorizer
	trace *[]string
}

func (d tracingDecider) Allowed(required rbac.RoleSet, p rbac.Principal) bool {
	*d.trace = append(*d.trace, "authz")
	return d.Authorizer.Allowed(required, p)
}

type rejection struct{ gate, reason string }

type recordingObserver struct {
	rejections []rejection
}

func (o *recordingObserver) ObserveRejection(gate, reason string) {
	o.rejections = append(o.rejections, rejection{gate, reason})
}

// newRequest attaches a fresh session; a cookieless Load never reaches the store.
func newRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	sm := shared.NewSessionManager(nil, "sid", "secret", time.Hour, false)
	sess, err := sm.Load(req.Context(), req)
	require.NoError(t, err)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

type fixture struct {
	trace    []string
	observer *recordingObserver
	pipeline *action.Pipeline
}

func newFixture(id *rbac.Identity, tokenErr error) *fixture {
	f := &fixture{observer: &recordingObserver{}}
	repo := rbac.NewRepository()
	_, _ = repo.Create("secured")
	_, _ = repo.Create("extra-secured")
	_ = repo.AddChild("extra-secured", "secured")
	f.pipeline = action.NewPipeline(action.PipelineConfig{
		Identities: fakeIdentities{id: id},
		Tokens:     fakeTokens{err: tokenErr, trace: &f.trace},
		Authorizer: tracingDecider{Authorizer: rbac.NewAuthorizer(repo), trace: &f.trace},
		Observer:   f.observer,
	})
	return f
}

func (f *fixture) step(name string) action.Hook {
	return func(http.ResponseWriter, *http.Request, []any) error {
		f.trace = append(f.trace, name)
		return nil
	}
}

func TestExecuteRunsGatesInOrder(t *testing.T) {
	f := newFixture(&rbac.Identity{Subject: "alice", Roles: []string{"extra-secured"}}, nil)
	a := action.MustNew(action.HandlerFunc(f.step("handler")),
		action.WithMethod(http.MethodPost),
		action.WithRoles(rbac.NewRoleSet("secured")),
		action.WithPreRun(f.step("pre")),
		action.WithPostRun(f.step("post")),
	)

	err := f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodPost, "/secured"), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"csrf", "authz", "pre", "handler", "post"}, f.trace)
	assert.Empty(t, f.observer.rejections)
}

func TestExecuteRejectsWrongMethodFirst(t *testing.T) {
	f := newFixture(nil, shared.ErrCSRFTokenMissing)
	a := action.MustNew(action.HandlerFunc(f.step("handler")),
		action.WithMethod(http.MethodPost),
		action.WithRoles(rbac.NewRoleSet("secured")),
	)

	res := httptest.NewRecorder()
	err := f.pipeline.Execute(res, newRequest(t, http.MethodGet, "/login"), a, 42)

	var methodErr *action.MethodNotAllowedError
	require.ErrorAs(t, err, &methodErr)
	assert.True(t, action.IsMethodNotAllowed(err))
	assert.Equal(t, action.StageReceived, methodErr.Stage)
	assert.Equal(t, []any{42}, methodErr.Params)
	assert.Same(t, res, methodErr.Response)
	assert.Empty(t, f.trace)
	assert.Equal(t, []rejection{{"method", "method not allowed"}}, f.observer.rejections)
}

func TestExecuteSkipsCSRFForPublicActions(t *testing.T) {
	f := newFixture(&rbac.Identity{Subject: "bob"}, shared.ErrCSRFTokenMissing)
	var seen *rbac.Identity
	a := action.MustNew(func(w http.ResponseWriter, r *http.Request, params []any) error {
		seen = action.IdentityFromContext(r.Context())
		return nil
	})

	require.NoError(t, f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), a))
	assert.Equal(t, []string{"authz"}, f.trace)
	require.NotNil(t, seen)
	assert.Equal(t, "bob", seen.Subject)
}

func TestExecuteRejectsInvalidCSRFBeforeAuthorization(t *testing.T) {
	f := newFixture(&rbac.Identity{Subject: "alice", Roles: []string{"secured"}}, shared.ErrCSRFTokenMismatch)
	a := action.MustNew(action.HandlerFunc(f.step("handler")), action.WithRoles(rbac.NewRoleSet("secured")))

	err := f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/secured"), a)

	var secErr *action.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Equal(t, action.ReasonInvalidCSRF, secErr.Reason)
	assert.Equal(t, "Invalid CSRF token", secErr.Message)
	assert.Equal(t, action.StageMethodChecked, secErr.Stage)
	assert.True(t, action.IsInvalidCSRF(err))
	assert.ErrorIs(t, err, action.ErrSecurityViolation)
	assert.ErrorIs(t, err, shared.ErrCSRFTokenMismatch)
	assert.Equal(t, []string{"csrf"}, f.trace)
	assert.Equal(t, []rejection{{"csrf", string(action.ReasonInvalidCSRF)}}, f.observer.rejections)
}

func TestExecuteRejectsInsufficientRoles(t *testing.T) {
	tests := []struct {
		name string
		id   *rbac.Identity
	}{
		{"anonymous", nil},
		{"child role only", &rbac.Identity{Subject: "bob", Roles: []string{"secured"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(tc.id, nil)
			a := action.MustNew(action.HandlerFunc(f.step("handler")), action.WithRoles(rbac.NewRoleSet("extra-secured")))

			err := f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/extra-secured"), a)

			var secErr *action.SecurityError
			require.ErrorAs(t, err, &secErr)
			assert.Equal(t, action.ReasonForbidden, secErr.Reason)
			assert.Equal(t, action.StageCSRFChecked, secErr.Stage)
			assert.False(t, action.IsInvalidCSRF(err))
			assert.Equal(t, []string{"csrf", "authz"}, f.trace)
		})
	}
}

func TestExecuteAdminPassesEveryRole(t *testing.T) {
	f := newFixture(&rbac.Identity{Subject: "root", Admin: true}, nil)
	a := action.MustNew(action.HandlerFunc(f.step("handler")), action.WithRoles(rbac.NewRoleSet("extra-secured")))
	require.NoError(t, f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/extra-secured"), a))
	assert.Contains(t, f.trace, "handler")
}

func TestExecuteWrapsViolationsFromHandler(t *testing.T) {
	f := newFixture(nil, nil)
	a := action.MustNew(func(http.ResponseWriter, *http.Request, []any) error {
		return fmt.Errorf("order belongs to another tenant: %w", action.ErrSecurityViolation)
	}, action.WithPostRun(f.step("post")))

	err := f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), a)

	var secErr *action.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Equal(t, action.ReasonViolation, secErr.Reason)
	assert.Equal(t, action.StageAuthorizationChecked, secErr.Stage)
	assert.NotContains(t, f.trace, "post")
	assert.Equal(t, []rejection{{"handler", string(action.ReasonViolation)}}, f.observer.rejections)
}

func TestExecutePassesOtherErrorsThrough(t *testing.T) {
	f := newFixture(nil, nil)
	boom := errors.New("boom")
	var gotParams []any
	a := action.MustNew(func(_ http.ResponseWriter, _ *http.Request, params []any) error {
		gotParams = params
		return boom
	})

	err := f.pipeline.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), a, "p1", 2)
	assert.Same(t, boom, err)
	assert.Equal(t, []any{"p1", 2}, gotParams)
	assert.Empty(t, f.observer.rejections)
}

func TestExecuteStoresIdentityInRequestContext(t *testing.T) {
	f := newFixture(&rbac.Identity{Subject: "alice"}, nil)
	var attr any
	res := httptest.NewRecorder()
	a := action.MustNew(func(w http.ResponseWriter, r *http.Request, _ []any) error {
		rc := shared.RequestContextFrom(r.Context())
		attr, _ = rc.Attribute(action.IdentityAttribute)
		assert.Same(t, r, rc.Request())
		assert.Same(t, w, rc.Response())
		assert.Equal(t, "alice", action.IdentityFromContext(rc.Request().Context()).Subject)
		return nil
	})

	req := newRequest(t, http.MethodGet, "/public")
	ctx, rc := shared.WithRequestContext(req.Context(), httptest.NewRecorder(), req)
	defer rc.Release()

	require.NoError(t, f.pipeline.Execute(res, req.WithContext(ctx), a))
	id, ok := attr.(*rbac.Identity)
	require.True(t, ok)
	assert.Equal(t, "alice", id.Subject)
}

func TestExecuteWithoutVerifierFailsGuardedActions(t *testing.T) {
	p := action.NewPipeline(action.PipelineConfig{})
	a := action.MustNew(func(http.ResponseWriter, *http.Request, []any) error { return nil },
		action.WithRoles(rbac.NewRoleSet("secured")))
	err := p.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/secured"), a)
	assert.True(t, action.IsInvalidCSRF(err))

	public := action.MustNew(func(http.ResponseWriter, *http.Request, []any) error { return nil })
	assert.NoError(t, p.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), public))
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := action.New(nil)
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = action.New(func(http.ResponseWriter, *http.Request, []any) error { return nil }, action.WithMethod("BREW"))
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)

	a, err := action.New(func(http.ResponseWriter, *http.Request, []any) error { return nil }, action.WithMethod("post"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, a.Method())
	assert.True(t, a.Public())
}

func TestExecuteLogsCompletedStage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := action.NewPipeline(action.PipelineConfig{Logger: logger})
	a := action.MustNew(func(http.ResponseWriter, *http.Request, []any) error { return nil }, action.WithName("public"))

	require.NoError(t, p.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), a))
	assert.Contains(t, buf.String(), `"stage":"completed"`)

	buf.Reset()
	failing := action.MustNew(func(http.ResponseWriter, *http.Request, []any) error { return errors.New("boom") })
	require.Error(t, p.Execute(httptest.NewRecorder(), newRequest(t, http.MethodGet, "/public"), failing))
	assert.NotContains(t, buf.String(), `"stage":"completed"`)
}
