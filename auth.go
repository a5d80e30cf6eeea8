package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const backendTokenIssuer = "dreamauth"

// BackendTokenIssuer signs short-lived identity assertions for services
// sitting behind the forward-auth endpoint.
type BackendTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewBackendTokenIssuer(secret string, ttl time.Duration) (*BackendTokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("backend token secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("backend token ttl must be positive")
	}
	return &BackendTokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (b *BackendTokenIssuer) Issue(identifier string) (string, error) {
	now := b.now()
	claims := jwt.RegisteredClaims{
		Issuer:    backendTokenIssuer,
		Subject:   identifier,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.secret)
}

// Verify parses a token produced by Issue and returns its subject.
func (b *BackendTokenIssuer) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return b.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(backendTokenIssuer),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
