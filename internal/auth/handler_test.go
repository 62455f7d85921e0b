package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/webguard/internal/auth"
	"github.com/odyssey-erp/webguard/internal/shared"
	_ "github.com/odyssey-erp/webguard/testing"
)

func newAuthHandler(t *testing.T) (*auth.Handler, *shared.SessionManager, *auth.Binding) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	binding := auth.NewBinding(shared.NewCSRFManager(0))
	repo := newUsers(t, auth.User{Username: "alice", PasswordHash: mustHash(t, "wonderland"), Roles: []string{"secured"}, IsActive: true})
	return auth.NewHandler(nil, auth.NewService(repo), binding), sessionManager, binding
}

func loginRequest(t *testing.T, sm *shared.SessionManager, username, password string) (*http.Request, *shared.Session) {
	t.Helper()
	form := url.Values{}
	form.Set(auth.FieldUsername, username)
	form.Set(auth.FieldPassword, password)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func TestLoginSuccessIssuesToken(t *testing.T) {
	handler, sessionManager, binding := newAuthHandler(t)
	req, sess := loginRequest(t, sessionManager, "alice", "wonderland")

	res := httptest.NewRecorder()
	if err := handler.Login(res, req); err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	token := res.Header().Get(shared.CSRFHeader)
	if len(token) != shared.DefaultCSRFTokenLength {
		t.Fatalf("expected %d char token, got %q", shared.DefaultCSRFTokenLength, token)
	}
	if sess.Get(shared.CSRFSessionKey) != token {
		t.Fatalf("session token does not match header")
	}
	id, err := binding.Identity(sess)
	if err != nil || id == nil || id.Subject != "alice" {
		t.Fatalf("expected alice bound to session, got %+v (%v)", id, err)
	}
	if !strings.Contains(res.Body.String(), `"user":"alice"`) {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	handler, sessionManager, binding := newAuthHandler(t)

	for _, tc := range []struct{ username, password string }{
		{"alice", "wrong"},
		{"nobody", "wonderland"},
		{"", ""},
	} {
		req, sess := loginRequest(t, sessionManager, tc.username, tc.password)
		res := httptest.NewRecorder()
		if err := handler.Login(res, req); err != nil {
			t.Fatalf("login: %v", err)
		}
		if res.Code != http.StatusForbidden {
			t.Fatalf("%q: expected status 403, got %d", tc.username, res.Code)
		}
		if res.Header().Get(shared.CSRFHeader) != "" {
			t.Fatalf("%q: token must not be issued", tc.username)
		}
		if id, _ := binding.Identity(sess); id != nil {
			t.Fatalf("%q: identity must not be bound", tc.username)
		}
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	handler, sessionManager, _ := newAuthHandler(t)
	req, sess := loginRequest(t, sessionManager, "alice", "wonderland")
	if err := handler.Login(httptest.NewRecorder(), req); err != nil {
		t.Fatalf("login: %v", err)
	}

	res := httptest.NewRecorder()
	if err := handler.Logout(res, req); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if !sess.Destroyed() || sess.Get(shared.CSRFSessionKey) != "" {
		t.Fatalf("expected session to be invalidated")
	}
}
