package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// HeaderSessionID carries the caller's session on every tenant route.
const HeaderSessionID = "X-Session-ID"

// SessionRegistry records first use of a session and refreshes its activity.
type SessionRegistry interface {
	CreateSession(ctx context.Context, id string) error
}

// RequireSession rejects requests without a well-formed session id before any
// storage is touched, then registers the session and stores the Identity.
func RequireSession(g *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := g.Identify(r.Header.Get(HeaderSessionID))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid or missing session id")
				return
			}
			if g.sessions != nil {
				if err := g.sessions.CreateSession(r.Context(), id.SessionID); err != nil {
					writeError(w, http.StatusInternalServerError, "session unavailable")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FromContext(r.Context()).IsAdmin {
				writeError(w, http.StatusForbidden, "admin privileges required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": msg})
}
