// Package store is the relational resource store for sessions, accounts and
// proxies. Every operation runs as one unit of work under a process-wide lock,
// and tenant-scoped calls refresh the caller's session in the same transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"activator/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no row matches the requested id.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when a tenant touches a row it does not own.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")
)

// Store serializes all access to the sessions, accounts and proxy_pool tables.
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// New wraps an open, migrated connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// unit runs fn inside a transaction under the store lock. When touchID is
// non-empty that session's last_active is refreshed first, on the same
// connection, so the sessions table is always locked before the primary one.
func (s *Store) unit(ctx context.Context, touchID string, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if touchID != "" {
			if err := tx.Model(&models.Session{}).
				Where("session_id = ?", touchID).
				Update("last_active", s.now()).Error; err != nil {
				return fmt.Errorf("touch session: %w", err)
			}
		}
		return fn(tx)
	})
}

// tenant returns the session id to touch for a scoped call.
func tenant(sessionID string, isAdmin bool) string {
	if isAdmin {
		return ""
	}
	return sessionID
}

// CreateSession registers id, or refreshes last_active when it already exists.
func (s *Store) CreateSession(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id required", ErrValidation)
	}
	now := s.now()
	return s.unit(ctx, "", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{"last_active": now}),
		}).Create(&models.Session{SessionID: id, CreatedAt: now, LastActive: now}).Error
	})
}

// TouchSession refreshes last_active for an existing session. Unknown ids are ignored.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	return s.unit(ctx, id, func(*gorm.DB) error { return nil })
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.unit(ctx, "", func(tx *gorm.DB) error {
		return tx.First(&sess, "session_id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
