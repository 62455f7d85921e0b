// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/webguard/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Status(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrInvalidArgument):
		Status(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrCSRFTokenMissing),
		errors.Is(err, shared.ErrCSRFTokenMismatch):
		Status(w, http.StatusForbidden, "")
	default:
		Status(w, http.StatusInternalServerError, "")
	}
}
