package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/dreamauth/internal/session"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, "")
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeAuthError maps authenticator errors onto HTTP responses. Session
// failures collapse into one generic answer unless exposeKind is set.
func writeAuthError(w http.ResponseWriter, err error, exposeKind bool) {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", "Authentication backend unavailable")
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "InvalidCredentials", "Invalid identifier or secret")
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		code := "Unauthorized"
		if exposeKind {
			code = session.Kind(err)
		}
		writeError(w, http.StatusUnauthorized, code, "authentication failed")
	default:
		writeError(w, http.StatusInternalServerError, "InternalError", "Internal server error")
	}
}
