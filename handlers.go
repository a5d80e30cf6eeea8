package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/example/dreamauth/internal/session"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcrypt reads at most 72 bytes; max= counts runes.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return v
}

// decodeRequest reads a JSON body into dst and validates it. An empty body
// decodes as the zero value when allowEmpty is set.
func (a *App) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := err.Error()
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			details = strings.Join(parts, "; ")
		}
		writeErrorDetails(w, http.StatusBadRequest, "InvalidRequest", "Request validation failed", details)
		return false
	}
	return true
}

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decodeRequest(w, r, &req, false) {
		recordRegistration("invalid")
		return
	}

	hashed, err := a.Auth.HashSecret(req.Secret)
	if err != nil {
		a.Log.Error("hash secret", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "InternalError", "Failed to process secret")
		return
	}
	user, err := a.DB.CreateUser(r.Context(), req.Identifier, hashed)
	if errors.Is(err, ErrUserExists) {
		recordRegistration("conflict")
		writeError(w, http.StatusConflict, "UserExists", "Identifier is already registered")
		return
	}
	if err != nil {
		recordRegistration("error")
		a.Log.Error("create user", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", "User store unavailable")
		return
	}
	recordRegistration("ok")
	a.Log.Info("user registered", zap.String("identifier", user.Identifier))
	writeJSON(w, http.StatusCreated, registerResponse{
		Identifier: user.Identifier,
		CreatedAt:  user.CreatedAt,
	})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !a.decodeRequest(w, r, &req, false) {
		return
	}
	s, err := a.Auth.Authenticate(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		kind := session.Kind(err)
		recordLogin(kind)
		a.Log.Info("login failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("identifier", req.Identifier),
			zap.String("kind", kind),
			zap.Error(err))
		writeAuthError(w, err, a.ExposeAuthErrorKind)
		return
	}
	recordLogin("")
	writeJSON(w, http.StatusOK, loginResponse{Token: s.Token, ExpiresAt: s.ExpiresAt})
}

// HandleLogout revokes the token named in the body, or the bearer token when
// the body carries none. Unknown tokens still answer 200.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !a.decodeRequest(w, r, &req, true) {
		return
	}
	token := req.Token
	if token == "" {
		token = bearerToken(r)
	}
	if err := a.Auth.Revoke(r.Context(), token); err != nil {
		a.Log.Error("logout", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeAuthError(w, err, a.ExposeAuthErrorKind)
		return
	}
	sessionsRevoked.WithLabelValues("single").Inc()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *App) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	identifier, _ := IdentifierFromContext(r.Context())
	if err := a.Auth.RevokeAll(r.Context(), identifier); err != nil {
		a.Log.Error("logout all", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeAuthError(w, err, a.ExposeAuthErrorKind)
		return
	}
	sessionsRevoked.WithLabelValues("all").Inc()
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	identifier, _ := IdentifierFromContext(r.Context())
	writeJSON(w, http.StatusOK, identityResponse{
		Identifier: identifier,
		Message:    "Welcome back, " + identifier,
	})
}

func (a *App) HandleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the dream narrator"})
}
