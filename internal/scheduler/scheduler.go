// Package scheduler decides which accounts are due for activation.
package scheduler

import (
	"context"
	"time"

	"activator/internal/models"
	"activator/internal/store"
)

// DefaultMaxActivationCount is the per-account activation quota.
const DefaultMaxActivationCount = 3

// Source is the slice of the store the scheduler reads.
type Source interface {
	EligibleAccounts(ctx context.Context, q store.EligibilityQuery) ([]models.Account, error)
}

type Scheduler struct {
	src Source
	now func() time.Time
}

func New(src Source) *Scheduler {
	return &Scheduler{src: src, now: time.Now}
}

// WithClock replaces the scheduler's time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Cutoff is 12:00 local time on the day before now. Accounts last activated
// at or before it are considered abandoned.
func Cutoff(now time.Time) time.Time {
	y := now.AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), 12, 0, 0, 0, now.Location())
}

// Due returns the accounts still under quota, in activation order. Non-admin
// callers only see their own accounts.
func (s *Scheduler) Due(ctx context.Context, sessionID string, isAdmin bool, maxActivationCount int) ([]models.Account, error) {
	if maxActivationCount <= 0 {
		maxActivationCount = DefaultMaxActivationCount
	}
	return s.src.EligibleAccounts(ctx, store.EligibilityQuery{
		SessionID:          sessionID,
		IsAdmin:            isAdmin,
		MaxActivationCount: maxActivationCount,
		Cutoff:             Cutoff(s.now()),
	})
}
