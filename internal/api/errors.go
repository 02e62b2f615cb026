package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/karaoke-core/internal/auth"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/logging"
	"github.com/nerrad567/karaoke-core/internal/social"
)

// Error represents a structured error response. Email and LockedUntil are
// only set for failed logins.
type Error struct {
	Status      int        `json:"status"`
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	Email       string     `json:"email,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeValidation         = "validation_error"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeSessionRevoked     = "session_revoked"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountLocked      = "account_locked"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllow     = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeInternal logs err with the request logger and sends a generic 500.
func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, message string, err error) {
	logging.FromContext(r.Context(), s.logger.Logger).Error(message, "error", err)
	writeInternalError(w, "internal server error")
}

// writeServiceError maps a service error onto the HTTP error taxonomy.
// Anything unrecognised is treated as a store failure.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var lockErr *auth.LockError
	var credErr *auth.CredentialsError

	switch {
	case errors.As(err, &lockErr):
		until := lockErr.Until.UTC()
		writeJSON(w, http.StatusForbidden, Error{
			Status:      http.StatusForbidden,
			Code:        ErrCodeAccountLocked,
			Message:     "account is locked",
			LockedUntil: &until,
		})
	case errors.As(err, &credErr):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeInvalidCredentials,
			Message: "invalid credentials",
			Email:   credErr.Email,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusForbidden, ErrCodeInvalidToken, "invalid or expired token")
	case errors.Is(err, auth.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, ErrCodeSessionRevoked, "session has been revoked")
	case errors.Is(err, auth.ErrSelfAction):
		writeForbidden(w, auth.ErrSelfAction.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrUsernameExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "username or email already exists")
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, social.ErrSelfFriend), errors.Is(err, social.ErrNoRequest):
		writeBadRequest(w, err.Error())
	default:
		s.writeInternal(w, r, op+" failed", err)
	}
}

// decodeJSON reads the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
