package session

import (
	"context"
	"time"
)

// UserRecord is a registered account as seen by the authenticator.
type UserRecord struct {
	Identifier string
	SecretHash string
	CreatedAt  time.Time
}

// UserStore resolves identifiers to user records.
type UserStore interface {
	// Lookup returns nil, nil when no user has the identifier.
	Lookup(ctx context.Context, identifier string) (*UserRecord, error)
}

// Session binds an opaque token to an identifier until ExpiresAt.
type Session struct {
	Token      string    `json:"token"`
	Identifier string    `json:"identifier"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store holds active sessions keyed by token.
type Store interface {
	// Create inserts s, failing with ErrTokenExists if the token is taken.
	Create(ctx context.Context, s *Session) error
	// Get returns nil, nil for unknown tokens.
	Get(ctx context.Context, token string) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	DeleteByIdentifier(ctx context.Context, identifier string) error
	// Extend persists a new ExpiresAt for an existing session. Missing
	// sessions are left missing.
	Extend(ctx context.Context, s *Session) error
}

// Purger is implemented by stores that do not expire entries on their own.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
