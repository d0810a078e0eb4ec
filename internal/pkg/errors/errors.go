// Package errors defines the API's typed errors and the JSON envelope every
// non-2xx response uses.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	}); err != nil {
		log.Debug().Err(err).Int("status", status).Msg("Failed to write error response")
	}
}

// WriteErr maps err onto the envelope. Unknown errors become a generic 500;
// their cause is only logged.
func WriteErr(w http.ResponseWriter, err error) {
	var (
		verr    *ValidationError
		authErr *AuthenticationError
		nfErr   *NotFoundError
		forbErr *ForbiddenError
		confErr *ConflictError
	)

	switch {
	case stderrors.As(err, &verr):
		WriteError(w, http.StatusBadRequest, ErrCodeValidation, verr.Error(), map[string]interface{}{
			"fields": verr.Fields,
		})
	case stderrors.As(err, &authErr):
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, authErr.Reason, nil)
	case stderrors.As(err, &nfErr):
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, nfErr.Error(), nil)
	case stderrors.As(err, &forbErr):
		WriteError(w, http.StatusForbidden, ErrCodeForbidden, forbErr.Reason, nil)
	case stderrors.As(err, &confErr):
		WriteError(w, http.StatusConflict, ErrCodeConflict, confErr.Reason, nil)
	default:
		log.Error().Err(err).Msg("unexpected error")
		WriteError(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil)
	}
}
