package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"activator/internal/activation"
	"activator/internal/auth"
	"activator/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type activateReq struct {
	Key   string   `json:"key" validate:"required"`
	Names []string `json:"names" validate:"omitempty,dive,required"`
	All   bool     `json:"all"`
	// Sequential only, in seconds.
	DelayMin *float64 `json:"delay_min" validate:"omitempty,gte=0"`
	DelayMax *float64 `json:"delay_max" validate:"omitempty,gte=0"`
}

var errNothingSelected = errors.New("names or all required")

// ActivationDeps groups what both activation endpoints need.
type ActivationDeps struct {
	Accounts           Accounts
	Scheduler          Scheduler
	Activator          Activator
	MaxActivationCount int
	Log                *zap.SugaredLogger
}

// selectAccounts resolves the request to candidate accounts. Named accounts
// that are unknown or already at quota come back as error results.
func (d ActivationDeps) selectAccounts(ctx context.Context, id auth.Identity, req activateReq) ([]models.Account, []activation.Result, error) {
	if req.All {
		due, err := d.Scheduler.Due(ctx, id.SessionID, id.IsAdmin, d.MaxActivationCount)
		return due, nil, err
	}
	if len(req.Names) == 0 {
		return nil, nil, errNothingSelected
	}
	found, err := d.Accounts.FindAccountsByName(ctx, id.SessionID, id.IsAdmin, req.Names)
	if err != nil {
		return nil, nil, err
	}

	matched := make(map[string]bool, len(found)*2)
	var selected []models.Account
	var rejected []activation.Result
	for _, acc := range found {
		matched[acc.Name] = true
		matched[acc.Email] = true
		if acc.ActivationStatus >= d.MaxActivationCount {
			rejected = append(rejected, activation.Result{
				ID: acc.ID, Account: acc.Email, Status: activation.StatusError,
				Message: "activation quota reached",
			})
			continue
		}
		selected = append(selected, acc)
	}
	for _, n := range req.Names {
		if !matched[n] {
			rejected = append(rejected, activation.Result{Account: n, Status: activation.StatusError, Message: "account not found"})
		}
	}
	return selected, rejected, nil
}

func (d ActivationDeps) batch(id auth.Identity, req activateReq, accounts []models.Account) activation.Batch {
	b := activation.Batch{
		SessionID: id.SessionID,
		IsAdmin:   id.IsAdmin,
		Key:       req.Key,
		Accounts:  accounts,
		DelayMin:  activation.DefaultDelayMin,
		DelayMax:  activation.DefaultDelayMax,
	}
	if req.DelayMin != nil {
		b.DelayMin = time.Duration(*req.DelayMin * float64(time.Second))
	}
	if req.DelayMax != nil {
		b.DelayMax = time.Duration(*req.DelayMax * float64(time.Second))
	}
	return b
}

// Activate runs the concurrent strategy and returns the aggregate.
func Activate(d ActivationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "key required")
			return
		}
		id := auth.FromContext(r.Context())
		accounts, rejected, err := d.selectAccounts(r.Context(), id, req)
		if errors.Is(err, errNothingSelected) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			d.Log.Errorw("select accounts", "session_id", id.SessionID, "err", err)
			respondErr(w, err)
			return
		}
		if len(accounts) == 0 && len(rejected) == 0 {
			respondError(w, http.StatusNotFound, "no accounts to activate")
			return
		}

		// Once started a batch runs to completion; only the batch deadline bounds it.
		sum := d.Activator.RunConcurrent(context.WithoutCancel(r.Context()), d.batch(id, req, accounts))
		sum.Results = append(sum.Results, rejected...)
		d.Log.Infow("activation batch", "session_id", id.SessionID, "accounts", len(accounts), "success", sum.SuccessCount)
		respondJSON(w, map[string]any{
			"status":        "success",
			"message":       fmt.Sprintf("%d of %d accounts activated", sum.SuccessCount, len(sum.Results)),
			"success_count": sum.SuccessCount,
			"updated_count": sum.UpdatedCount,
			"results":       sum.Results,
		})
	}
}

// ActivateSequential streams per-account progress as server-sent events.
func ActivateSequential(d ActivationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "key required")
			return
		}
		id := auth.FromContext(r.Context())
		accounts, rejected, err := d.selectAccounts(r.Context(), id, req)
		if errors.Is(err, errNothingSelected) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			respondErr(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		runID := uuid.NewString()
		emit := func(ev activation.Event) error {
			ev.RunID = runID
			b, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
			return rc.Flush()
		}

		if err := emit(activation.Event{Status: activation.EventInit, Total: len(accounts), Message: "stream opened"}); err != nil {
			return
		}
		for i := range rejected {
			if err := emit(activation.Event{Status: activation.EventResult, Account: rejected[i].Account, Result: &rejected[i]}); err != nil {
				return
			}
		}
		if len(accounts) == 0 {
			_ = emit(activation.Event{Status: activation.EventError, Message: "no accounts to activate"})
			return
		}

		d.Log.Infow("sequential activation started", "run_id", runID, "session_id", id.SessionID, "accounts", len(accounts))
		err = d.Activator.RunSequential(r.Context(), d.batch(id, req, accounts), emit)
		switch {
		case err == nil:
		case r.Context().Err() != nil:
			d.Log.Infow("sequential activation cancelled by client", "run_id", runID)
		default:
			d.Log.Warnw("sequential activation stopped", "run_id", runID, "err", err)
			_ = emit(activation.Event{Status: activation.EventError, Message: err.Error()})
		}
	}
}
