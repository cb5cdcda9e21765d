package handlers

import (
	"encoding/json"
	"net/http"

	"activator/internal/auth"
	"activator/internal/models"

	"go.uber.org/zap"
)

// ListAccounts returns the caller's accounts. The admin session sees every tenant.
func ListAccounts(accounts Accounts, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		rows, err := accounts.GetAccounts(r.Context(), id.SessionID, id.IsAdmin)
		if err != nil {
			lg.Errorw("list accounts", "session_id", id.SessionID, "err", err)
			respondErr(w, err)
			return
		}
		docs := make([]map[string]any, 0, len(rows))
		for i := range rows {
			docs = append(docs, rows[i].Document())
		}
		respondJSON(w, map[string]any{
			"status":   "success",
			"accounts": docs,
			"is_admin": id.IsAdmin,
		})
	}
}

type saveAccountReq struct {
	AccountData json.RawMessage `json:"account_data" validate:"required"`
}

// SaveAccount stores an account for the caller, replacing one with the same email.
func SaveAccount(accounts Accounts, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveAccountReq
		if err := decode(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		var p models.AccountPayload
		if err := json.Unmarshal(req.AccountData, &p); err != nil {
			respondError(w, http.StatusBadRequest, "account_data must be a JSON object")
			return
		}
		id := auth.FromContext(r.Context())
		acc, err := accounts.SaveAccount(r.Context(), id.SessionID, p)
		if err != nil {
			lg.Warnw("save account", "session_id", id.SessionID, "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "message": "account saved", "account": acc.Document()})
	}
}

type updateAccountReq struct {
	ID          uint            `json:"id" validate:"required"`
	AccountData json.RawMessage `json:"account_data" validate:"required"`
}

func UpdateAccount(accounts Accounts, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateAccountReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "id and account_data required")
			return
		}
		var p models.AccountPayload
		if err := json.Unmarshal(req.AccountData, &p); err != nil {
			respondError(w, http.StatusBadRequest, "account_data must be a JSON object")
			return
		}
		id := auth.FromContext(r.Context())
		if _, err := accounts.UpdateAccount(r.Context(), id.SessionID, req.ID, p, id.IsAdmin); err != nil {
			lg.Warnw("update account", "session_id", id.SessionID, "account_id", req.ID, "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "message": "account updated"})
	}
}

type deleteAccountReq struct {
	ID  uint   `json:"id"`
	IDs []uint `json:"ids"`
}

// DeleteAccounts removes one account ({id}) or a batch ({ids}). Batches are
// best effort and report per-id outcomes.
func DeleteAccounts(accounts Accounts, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteAccountReq
		if err := decode(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		id := auth.FromContext(r.Context())

		if req.IDs != nil {
			if len(req.IDs) == 0 {
				respondError(w, http.StatusBadRequest, "no account ids given")
				return
			}
			res := accounts.DeleteAccounts(r.Context(), id.SessionID, req.IDs, id.IsAdmin)
			lg.Infow("batch delete", "session_id", id.SessionID, "deleted", len(res.Success), "failed", len(res.Failed))
			respondJSON(w, map[string]any{
				"status":  res.Status(),
				"message": batchMessage(len(res.Success), len(res.Failed)),
				"results": res,
			})
			return
		}

		if req.ID == 0 {
			respondError(w, http.StatusBadRequest, "no account id given")
			return
		}
		if err := accounts.DeleteAccount(r.Context(), id.SessionID, req.ID, id.IsAdmin); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "message": "account deleted"})
	}
}

func batchMessage(ok, failed int) string {
	switch {
	case failed == 0:
		return pluralize(ok, "account") + " deleted"
	case ok == 0:
		return "no accounts deleted"
	default:
		return pluralize(ok, "account") + " deleted, " + pluralize(failed, "account") + " failed"
	}
}
