package shared_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/webguard/internal/shared"
)

func TestRequestScopeReleasesAfterHandler(t *testing.T) {
	var captured *shared.RequestContext
	handler := shared.RequestScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = shared.RequestContextFrom(r.Context())
		require.NotNil(t, captured)
		assert.Same(t, r, captured.Request())
		require.NoError(t, captured.SetAttribute("user", "alice"))
		v, err := captured.Attribute("user")
		require.NoError(t, err)
		assert.Equal(t, "alice", v)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, captured)
	assert.True(t, captured.Released())
	assert.Nil(t, captured.Request())
	assert.Nil(t, captured.Response())
	v, err := captured.Attribute("user")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, captured.SetAttribute("user", "late"))
	v, _ = captured.Attribute("user")
	assert.Nil(t, v)
}

func TestRequestScopeReleasesOnPanic(t *testing.T) {
	var captured *shared.RequestContext
	handler := shared.RequestScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = shared.RequestContextFrom(r.Context())
		_ = captured.SetAttribute("k", 1)
		panic("boom")
	}))

	func() {
		defer func() { _ = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	require.NotNil(t, captured)
	assert.True(t, captured.Released())
}

func TestRequestContextsAreNotShared(t *testing.T) {
	seen := make([]*shared.RequestContext, 0, 2)
	handler := shared.RequestScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := shared.RequestContextFrom(r.Context())
		v, err := rc.Attribute("k")
		require.NoError(t, err)
		assert.Nil(t, v)
		_ = rc.SetAttribute("k", "v")
		seen = append(seen, rc)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
}

func TestRequestContextRejectsBlankNames(t *testing.T) {
	_, rc := shared.WithRequestContext(httptest.NewRequest(http.MethodGet, "/", nil).Context(), httptest.NewRecorder(), nil)
	defer rc.Release()

	_, err := rc.Attribute(" ")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	assert.ErrorIs(t, rc.SetAttribute("", 1), shared.ErrInvalidArgument)
	assert.ErrorIs(t, rc.DeleteAttribute(""), shared.ErrInvalidArgument)
	assert.Nil(t, shared.RequestContextFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestRequestContextRebind(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx, rc := shared.WithRequestContext(req.Context(), httptest.NewRecorder(), req)

	inner := httptest.NewRecorder()
	decorated := req.WithContext(ctx)
	rc.Rebind(inner, decorated)
	assert.Same(t, decorated, rc.Request())
	assert.Same(t, inner, rc.Response())

	rc.Rebind(nil, nil)
	assert.Same(t, decorated, rc.Request())

	rc.Release()
	rc.Rebind(inner, decorated)
	assert.Nil(t, rc.Request())
	assert.Nil(t, rc.Response())
}

func TestNilRequestContextIsInert(t *testing.T) {
	var rc *shared.RequestContext

	v, err := rc.Attribute("k")
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, rc.SetAttribute("k", 1))
	assert.NoError(t, rc.DeleteAttribute("k"))
	assert.True(t, rc.Released())
	assert.Nil(t, rc.Request())
	assert.Nil(t, rc.Response())

	_, err = rc.Attribute("")
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	assert.NotPanics(t, func() {
		rc.Rebind(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		rc.Release()
	})
}
