package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HandleForwardAuth answers reverse-proxy auth subrequests. It runs behind
// RequireSession, so reaching it means the bearer token is valid.
// GET /auth/validate
func (a *App) HandleForwardAuth(w http.ResponseWriter, r *http.Request) {
	identifier, _ := IdentifierFromContext(r.Context())
	w.Header().Set("X-Auth-Identifier", identifier)

	if a.Backend != nil {
		tok, err := a.Backend.Issue(identifier)
		if err != nil {
			a.Log.Error("issue backend token", zap.String("request_id", requestID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "InternalError", "Failed to issue backend token")
			return
		}
		w.Header().Set("X-Auth-Backend-Token", tok)
	}
	writeJSON(w, http.StatusOK, identityResponse{Identifier: identifier})
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady pings the user database and, when separate, the session store.
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.DB.Ping(ctx); err != nil {
		a.Log.Warn("readiness: database ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	if p, ok := a.Sessions.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			a.Log.Warn("readiness: session store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
