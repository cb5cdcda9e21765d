package handlers

import (
	"net/http"

	"activator/internal/auth"

	"go.uber.org/zap"
)

type generateSessionReq struct {
	CustomID string `json:"custom_id"`
	Length   *int   `json:"length" validate:"omitempty,min=6,max=20"`
}

// GenerateSession registers a caller-chosen id or a random one.
func GenerateSession(sessions Sessions, gate *auth.Gate, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateSessionReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "session id length must be between 6 and 20")
			return
		}

		id := req.CustomID
		if id != "" {
			if !auth.IsValidSessionID(id) {
				respondError(w, http.StatusBadRequest, "custom session id is invalid")
				return
			}
		} else {
			n := auth.DefaultSessionIDLength
			if req.Length != nil {
				n = *req.Length
			}
			var err error
			if id, err = auth.GenerateSessionID(n); err != nil {
				lg.Errorw("generate session id", "err", err)
				respondError(w, http.StatusInternalServerError, "could not generate session id")
				return
			}
		}

		if err := sessions.CreateSession(r.Context(), id); err != nil {
			lg.Errorw("create session", "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{
			"status":     "success",
			"session_id": id,
			"is_admin":   gate.IsAdmin(id),
			"message":    "session created",
		})
	}
}

type validateSessionReq struct {
	SessionID string `json:"session_id" validate:"required"`
}

// ValidateSession checks an id's format and refreshes its activity when valid.
func ValidateSession(sessions Sessions, gate *auth.Gate, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateSessionReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "session_id required")
			return
		}
		id, err := gate.Identify(req.SessionID)
		if err != nil {
			respondStatus(w, http.StatusOK, map[string]any{
				"status":   "error",
				"is_valid": false,
				"is_admin": false,
				"message":  "invalid session id format",
			})
			return
		}
		if err := sessions.CreateSession(r.Context(), id.SessionID); err != nil {
			lg.Warnw("refresh session", "err", err)
		}
		respondJSON(w, map[string]any{
			"status":   "success",
			"is_valid": true,
			"is_admin": id.IsAdmin,
			"message":  "session id is valid",
		})
	}
}

// SessionInfo reports on the header session without requiring it to be valid.
func SessionInfo(gate *auth.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get(auth.HeaderSessionID)
		if sid == "" {
			respondError(w, http.StatusBadRequest, "missing session id")
			return
		}
		valid := auth.IsValidSessionID(sid)
		respondJSON(w, map[string]any{
			"status":     "success",
			"session_id": sid,
			"is_valid":   valid,
			"is_admin":   valid && gate.IsAdmin(sid),
		})
	}
}
