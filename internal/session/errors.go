package session

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// secrets alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	// ErrStoreUnavailable wraps any failure of a user or session store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTokenExists is returned by Store.Create when the token is already taken.
	ErrTokenExists = errors.New("token already exists")
)

// Kind names the error class of err for logs and API responses.
// Unknown errors map to "Internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "InvalidCredentials"
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	case errors.Is(err, ErrSessionExpired):
		return "SessionExpired"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "Internal"
	}
}
