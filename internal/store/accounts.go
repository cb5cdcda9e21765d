package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activator/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// accountColumns are rewritten when an existing (session, email) row is re-saved.
// Activation counters and the primary key are left alone.
var accountColumns = []string{
	"name", "password", "client_id", "token", "device_id", "invite_code", "payload", "updated_at",
}

// SaveAccount upserts the account keyed by (sessionID, payload email).
func (s *Store) SaveAccount(ctx context.Context, sessionID string, p models.AccountPayload) (*models.Account, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	if p.Email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}
	acc := models.Account{SessionID: sessionID}
	if err := acc.SetPayload(p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}

	var saved models.Account
	err := s.unit(ctx, sessionID, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "email"}},
			DoUpdates: clause.AssignmentColumns(accountColumns),
		}).Create(&acc).Error
		if err != nil {
			return err
		}
		return tx.Where("session_id = ? AND email = ?", sessionID, p.Email).First(&saved).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	return &saved, nil
}

// GetAccounts lists every account for the admin, or the caller's own otherwise.
func (s *Store) GetAccounts(ctx context.Context, sessionID string, isAdmin bool) ([]models.Account, error) {
	var out []models.Account
	err := s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		q := tx.Order("updated_at DESC").Order("id DESC")
		if !isAdmin {
			q = q.Where("session_id = ?", sessionID)
		}
		return q.Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	return out, nil
}

// GetAccount returns one account under the same ownership rule as UpdateAccount.
func (s *Store) GetAccount(ctx context.Context, sessionID string, id uint, isAdmin bool) (*models.Account, error) {
	var acc *models.Account
	err := s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		var err error
		acc, err = owned(tx, sessionID, id, isAdmin)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// FindAccountsByName returns the caller's accounts whose name or email matches one of names.
// Names default to the email local part, so both forms select the same row.
func (s *Store) FindAccountsByName(ctx context.Context, sessionID string, isAdmin bool, names []string) ([]models.Account, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var out []models.Account
	err := s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		q := tx.Where("(name IN ? OR email IN ?)", names, names).Order("id ASC")
		if !isAdmin {
			q = q.Where("session_id = ?", sessionID)
		}
		return q.Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}
	return out, nil
}

// UpdateAccount replaces the payload of account id and re-derives its indexed columns.
func (s *Store) UpdateAccount(ctx context.Context, sessionID string, id uint, p models.AccountPayload, isAdmin bool) (*models.Account, error) {
	if p.Email == "" {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}
	var acc *models.Account
	err := s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		var err error
		if acc, err = owned(tx, sessionID, id, isAdmin); err != nil {
			return err
		}
		if err := acc.SetPayload(p); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrValidation, err)
		}
		return tx.Save(acc).Error
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// DeleteAccount removes account id if the caller owns it or is the admin.
func (s *Store) DeleteAccount(ctx context.Context, sessionID string, id uint, isAdmin bool) error {
	return s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		acc, err := owned(tx, sessionID, id, isAdmin)
		if err != nil {
			return err
		}
		return tx.Delete(&models.Account{}, acc.ID).Error
	})
}

// DeleteFailure explains why one id of a batch was not deleted.
type DeleteFailure struct {
	ID     uint   `json:"id"`
	Reason string `json:"reason"`
}

type BatchDeleteResult struct {
	Success []uint          `json:"success"`
	Failed  []DeleteFailure `json:"failed"`
}

// Status is "success" when nothing failed, "error" when nothing succeeded and
// "partial" otherwise.
func (r BatchDeleteResult) Status() string {
	switch {
	case len(r.Failed) == 0:
		return "success"
	case len(r.Success) == 0:
		return "error"
	default:
		return "partial"
	}
}

// DeleteAccounts deletes each id independently; one failure never rolls back another.
func (s *Store) DeleteAccounts(ctx context.Context, sessionID string, ids []uint, isAdmin bool) BatchDeleteResult {
	res := BatchDeleteResult{Success: []uint{}, Failed: []DeleteFailure{}}
	for _, id := range ids {
		err := s.DeleteAccount(ctx, sessionID, id, isAdmin)
		switch {
		case err == nil:
			res.Success = append(res.Success, id)
		case errors.Is(err, ErrPermissionDenied):
			res.Failed = append(res.Failed, DeleteFailure{ID: id, Reason: "account not found or permission denied"})
		case errors.Is(err, ErrNotFound):
			res.Failed = append(res.Failed, DeleteFailure{ID: id, Reason: "account not found"})
		default:
			res.Failed = append(res.Failed, DeleteFailure{ID: id, Reason: err.Error()})
		}
	}
	return res
}

// IncrementActivation bumps activation_status by one, stamps last_activation_time
// and returns the new count.
func (s *Store) IncrementActivation(ctx context.Context, sessionID string, id uint, isAdmin bool) (int, error) {
	var count int
	err := s.unit(ctx, tenant(sessionID, isAdmin), func(tx *gorm.DB) error {
		if _, err := owned(tx, sessionID, id, isAdmin); err != nil {
			return err
		}
		err := tx.Model(&models.Account{}).Where("id = ?", id).Updates(map[string]any{
			"activation_status":    gorm.Expr("COALESCE(activation_status, 0) + 1"),
			"last_activation_time": s.now(),
		}).Error
		if err != nil {
			return err
		}
		var acc models.Account
		if err := tx.Select("activation_status").First(&acc, id).Error; err != nil {
			return err
		}
		count = acc.ActivationStatus
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// EligibilityQuery selects accounts still under quota and not stale.
type EligibilityQuery struct {
	SessionID          string
	IsAdmin            bool
	MaxActivationCount int
	// Cutoff excludes accounts last activated at or before this instant.
	Cutoff time.Time
}

// EligibleAccounts returns the accounts matching q in activation order.
// Never-activated accounts sort before activated ones on every backend.
func (s *Store) EligibleAccounts(ctx context.Context, q EligibilityQuery) ([]models.Account, error) {
	var out []models.Account
	err := s.unit(ctx, tenant(q.SessionID, q.IsAdmin), func(tx *gorm.DB) error {
		db := tx.
			Where("(activation_status IS NULL OR activation_status < ?)", q.MaxActivationCount).
			Where("(last_activation_time IS NULL OR last_activation_time > ?)", q.Cutoff.UTC()).
			Where("email IS NOT NULL AND email <> ''")
		if q.IsAdmin {
			db = db.Order("session_id ASC")
		} else {
			db = db.Where("session_id = ?", q.SessionID)
		}
		return db.
			Order("activation_status ASC").
			Order("last_activation_time IS NOT NULL").
			Order("last_activation_time ASC").
			Order("created_at ASC").
			Order("id ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("eligible accounts: %w", err)
	}
	return out, nil
}

// owned loads account id and enforces ownership. A tenant asking for a
// missing id gets ErrPermissionDenied so that ids cannot be probed.
func owned(tx *gorm.DB, sessionID string, id uint, isAdmin bool) (*models.Account, error) {
	var acc models.Account
	err := tx.First(&acc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if isAdmin {
			return nil, ErrNotFound
		}
		return nil, ErrPermissionDenied
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && acc.SessionID != sessionID {
		return nil, ErrPermissionDenied
	}
	return &acc, nil
}
