// Package session issues, validates and revokes opaque session tokens for
// registered users.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const maxTokenAttempts = 3

// Config controls session lifetime, token entropy and hashing work factor.
type Config struct {
	TTL        time.Duration
	TokenBytes int
	HashCost   int
	// Sliding extends a session by TTL on every successful Validate.
	Sliding bool
	// SingleSession revokes older sessions of an identifier on login.
	// Logins for one identifier are serialised within a process only;
	// replicas sharing a store can still race.
	SingleSession bool
}

func DefaultConfig() Config {
	return Config{
		TTL:        24 * time.Hour,
		TokenBytes: 32,
		HashCost:   bcrypt.DefaultCost,
	}
}

func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.TokenBytes < MinTokenBytes {
		return fmt.Errorf("token bytes must be at least %d", MinTokenBytes)
	}
	if c.HashCost < bcrypt.MinCost || c.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("hash cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// Authenticator is safe for concurrent use.
type Authenticator struct {
	users  UserStore
	store  Store
	cfg    Config
	hasher *Hasher
	now    func() time.Time
	log    *zap.Logger

	logins keyLock
}

type Option func(*Authenticator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

func New(users UserStore, store Store, cfg Config, opts ...Option) (*Authenticator, error) {
	if users == nil || store == nil {
		return nil, errors.New("session: user store and session store are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	h, err := NewHasher(cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	a := &Authenticator{
		users:  users,
		store:  store,
		cfg:    cfg,
		hasher: h,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// HashSecret hashes a plaintext secret for storage in a UserRecord.
func (a *Authenticator) HashSecret(secret string) (string, error) {
	return a.hasher.Hash(secret)
}

// Authenticate checks the credential and opens a new session.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) (*Session, error) {
	if identifier == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := a.users.Lookup(ctx, identifier)
	if err != nil {
		a.log.Error("user lookup failed", zap.String("identifier", identifier), zap.Error(err))
		return nil, fmt.Errorf("%w: lookup user: %w", ErrStoreUnavailable, err)
	}
	if u == nil {
		a.hasher.CompareDummy(secret)
		a.log.Info("login rejected", zap.String("identifier", identifier), zap.String("reason", "unknown identifier"))
		return nil, ErrInvalidCredentials
	}
	if !a.hasher.Compare(u.SecretHash, secret) {
		a.log.Info("login rejected", zap.String("identifier", identifier), zap.String("reason", "secret mismatch"))
		return nil, ErrInvalidCredentials
	}

	if a.cfg.SingleSession {
		unlock := a.logins.Lock(u.Identifier)
		defer unlock()
		if err := a.store.DeleteByIdentifier(ctx, identifier); err != nil {
			return nil, fmt.Errorf("%w: revoke previous sessions: %w", ErrStoreUnavailable, err)
		}
	}

	now := a.now()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := genToken(a.cfg.TokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		s := &Session{
			Token:      token,
			Identifier: u.Identifier,
			IssuedAt:   now,
			ExpiresAt:  now.Add(a.cfg.TTL),
		}
		err = a.store.Create(ctx, s)
		if errors.Is(err, ErrTokenExists) {
			a.log.Warn("token collision, regenerating", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			a.log.Error("session create failed", zap.Error(err))
			return nil, fmt.Errorf("%w: create session: %w", ErrStoreUnavailable, err)
		}
		a.log.Debug("session issued",
			zap.String("identifier", s.Identifier),
			zap.String("token", fingerprint(token)),
			zap.Time("expires_at", s.ExpiresAt))
		return s, nil
	}
	return nil, fmt.Errorf("create session: %w after %d attempts", ErrTokenExists, maxTokenAttempts)
}

// Validate returns the identifier owning token.
func (a *Authenticator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionNotFound
	}
	s, err := a.store.Get(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: get session: %w", ErrStoreUnavailable, err)
	}
	if s == nil {
		return "", ErrSessionNotFound
	}
	now := a.now()
	if s.Expired(now) {
		if err := a.store.Delete(ctx, token); err != nil {
			a.log.Warn("dropping expired session failed", zap.String("token", fingerprint(token)), zap.Error(err))
		}
		return "", ErrSessionExpired
	}
	if a.cfg.Sliding {
		s.ExpiresAt = now.Add(a.cfg.TTL)
		if err := a.store.Extend(ctx, s); err != nil {
			return "", fmt.Errorf("%w: extend session: %w", ErrStoreUnavailable, err)
		}
	}
	return s.Identifier, nil
}

// Revoke ends the session for token. Unknown tokens are ignored.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := a.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("%w: delete session: %w", ErrStoreUnavailable, err)
	}
	a.log.Debug("session revoked", zap.String("token", fingerprint(token)))
	return nil
}

// RevokeAll ends every session belonging to identifier.
func (a *Authenticator) RevokeAll(ctx context.Context, identifier string) error {
	if err := a.store.DeleteByIdentifier(ctx, identifier); err != nil {
		return fmt.Errorf("%w: delete sessions: %w", ErrStoreUnavailable, err)
	}
	a.log.Info("all sessions revoked", zap.String("identifier", identifier))
	return nil
}
