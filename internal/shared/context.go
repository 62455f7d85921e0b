package shared

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type sessionContextKey struct{}

type requestContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// RequestContext is the request-scoped attribute store. It exists from the
// start of request handling until Release and is never shared between
// requests.
type RequestContext struct {
	mu       sync.Mutex
	request  *http.Request
	response http.ResponseWriter
	attrs    map[string]any
	released bool
}

// WithRequestContext creates the scope for one request and attaches it to ctx.
// Callers must defer Release.
func WithRequestContext(ctx context.Context, w http.ResponseWriter, r *http.Request) (context.Context, *RequestContext) {
	rc := &RequestContext{
		request:  r,
		response: w,
		attrs:    make(map[string]any),
	}
	return context.WithValue(ctx, requestContextKey{}, rc), rc
}

// RequestContextFrom returns the scope attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// Request returns the current request handle.
func (rc *RequestContext) Request() *http.Request {
	if rc == nil {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.request
}

// Response returns the current response handle.
func (rc *RequestContext) Response() http.ResponseWriter {
	if rc == nil {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.response
}

// Rebind replaces the request/response pair once an outer layer has decorated
// them, so components see the session-aware request and the committing
// writer. It is a no-op after Release.
func (rc *RequestContext) Rebind(w http.ResponseWriter, r *http.Request) {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.released {
		return
	}
	if w != nil {
		rc.response = w
	}
	if r != nil {
		rc.request = r
	}
}

// Attribute returns a stored attribute. A nil scope holds nothing.
func (rc *RequestContext) Attribute(name string) (any, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.attrs[name], nil
}

// SetAttribute stores an attribute. It is a no-op after Release or on a nil
// scope.
func (rc *RequestContext) SetAttribute(name string, value any) error {
	if err := validName(name); err != nil {
		return err
	}
	if rc == nil {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.released {
		return nil
	}
	rc.attrs[name] = value
	return nil
}

// DeleteAttribute removes an attribute.
func (rc *RequestContext) DeleteAttribute(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if rc == nil {
		return nil
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.attrs, name)
	return nil
}

// Release clears every attribute and both handles.
func (rc *RequestContext) Release() {
	if rc == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.released = true
	rc.request = nil
	rc.response = nil
	rc.attrs = make(map[string]any)
}

// Released reports whether Release ran. A nil scope counts as released.
func (rc *RequestContext) Released() bool {
	if rc == nil {
		return true
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.released
}

// RequestScope installs a RequestContext for every request and releases it on
// every exit path, panics included.
func RequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rc := WithRequestContext(r.Context(), w, r)
		defer rc.Release()
		req := r.WithContext(ctx)
		rc.Rebind(w, req)
		next.ServeHTTP(w, req)
	})
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: attribute name required", ErrInvalidArgument)
	}
	return nil
}
