package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/webguard/internal/platform/httpx"
	"github.com/odyssey-erp/webguard/internal/shared"
)

const (
	// FieldUsername is the login form field carrying the username.
	FieldUsername = "username"
	// FieldPassword is the login form field carrying the password.
	FieldPassword = "password"
)

// Handler implements the login and logout business logic. Its methods are
// registered as public actions.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	binding   *Binding
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, binding *Binding) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		binding:   binding,
		validator: validator.New(),
	}
}

type loginForm struct {
	Username string `validate:"required,max=128"`
	Password string `validate:"required,max=256"`
}

type loginResponse struct {
	Status string `json:"status"`
	User   string `json:"user"`
}

// Login authenticates the form credentials, binds the identity to the session
// and sends the CSRF token header. Missing or wrong credentials yield 403.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		httpx.Status(w, http.StatusBadRequest, "")
		return nil
	}
	form := loginForm{
		Username: r.PostFormValue(FieldUsername),
		Password: r.PostFormValue(FieldPassword),
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				h.logger.Debug("login form invalid", slog.String("field", fieldErr.Field()), slog.String("tag", fieldErr.Tag()))
			}
		}
		httpx.Status(w, http.StatusForbidden, "")
		return nil
	}

	user, err := h.service.Authenticate(r.Context(), form.Username, form.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("username", form.Username))
		httpx.Status(w, http.StatusForbidden, "")
		return nil
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Status(w, http.StatusInternalServerError, "")
		return nil
	}
	if _, err := h.binding.Register(sess, w, user.Identity()); err != nil {
		return err
	}
	h.logger.Info("login", slog.String("username", user.Username))
	httpx.JSON(w, http.StatusOK, loginResponse{Status: "ok", User: user.Username})
	return nil
}

// Logout invalidates the session of the request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) error {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.binding.Logout(sess)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
