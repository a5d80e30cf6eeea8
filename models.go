package main

import "time"

// Empty fields are left to the authenticator so they fail like any other
// bad credential.
type credentialsRequest struct {
	Identifier string `json:"identifier" validate:"max=254"`
	Secret     string `json:"secret" validate:"maxbytes=72"`
}

type registerRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Secret     string `json:"secret" validate:"required,min=8,maxbytes=72"`
}

type logoutRequest struct {
	Token string `json:"token" validate:"max=512"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type registerResponse struct {
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"createdAt"`
}

type identityResponse struct {
	Identifier string `json:"identifier"`
	Message    string `json:"message,omitempty"`
}
