package action

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/webguard/internal/platform/httpx"
)

// Dispatcher resolves the action of a request and runs it through the
// pipeline, translating failures into status codes: 404 for unknown routes,
// 405 for method rejections, 403 for security errors. The default rejection
// responses carry no body; the callbacks receive the request, response and
// params to render one. Other handler errors go through httpx.RespondError.
type Dispatcher struct {
	Registry *Registry
	Pipeline *Pipeline
	Logger   *slog.Logger

	// Params supplies extra parameters passed to the action.
	Params func(r *http.Request) []any
	// Active disables dispatching with 503 when it returns false.
	Active func() bool

	OnNotFound         func(w http.ResponseWriter, r *http.Request)
	OnMethodNotAllowed func(err *MethodNotAllowedError)
	OnSecurityError    func(err *SecurityError)
	OnError            func(w http.ResponseWriter, r *http.Request, err error)
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.Active != nil && !d.Active() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	a, ok := d.Registry.Resolve(r.Method, r.URL.Path)
	if !ok {
		if d.OnNotFound != nil {
			d.OnNotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var params []any
	if d.Params != nil {
		params = d.Params(r)
	}

	err := d.Pipeline.Execute(w, r, a, params...)
	if err == nil {
		return
	}

	var methodErr *MethodNotAllowedError
	var secErr *SecurityError
	switch {
	case errors.As(err, &methodErr):
		if d.OnMethodNotAllowed != nil {
			d.OnMethodNotAllowed(methodErr)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	case errors.As(err, &secErr):
		if d.OnSecurityError != nil {
			d.OnSecurityError(secErr)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	default:
		if d.OnError != nil {
			d.OnError(w, r, err)
			return
		}
		d.logger().Error("action failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
