package handlers

import (
	"context"

	"activator/internal/activation"
	"activator/internal/models"
	"activator/internal/proxypool"
	"activator/internal/store"
)

// Sessions is what the session endpoints need from the store.
type Sessions interface {
	CreateSession(ctx context.Context, id string) error
}

// Accounts is the account side of the store.
type Accounts interface {
	SaveAccount(ctx context.Context, sessionID string, p models.AccountPayload) (*models.Account, error)
	GetAccounts(ctx context.Context, sessionID string, isAdmin bool) ([]models.Account, error)
	FindAccountsByName(ctx context.Context, sessionID string, isAdmin bool, names []string) ([]models.Account, error)
	UpdateAccount(ctx context.Context, sessionID string, id uint, p models.AccountPayload, isAdmin bool) (*models.Account, error)
	DeleteAccount(ctx context.Context, sessionID string, id uint, isAdmin bool) error
	DeleteAccounts(ctx context.Context, sessionID string, ids []uint, isAdmin bool) store.BatchDeleteResult
}

// Scheduler lists accounts due for activation.
type Scheduler interface {
	Due(ctx context.Context, sessionID string, isAdmin bool, maxActivationCount int) ([]models.Account, error)
}

// Activator runs activation batches.
type Activator interface {
	RunConcurrent(ctx context.Context, b activation.Batch) activation.Summary
	RunSequential(ctx context.Context, b activation.Batch, emit func(activation.Event) error) error
}

// ProxyPool is the proxy manager surface used by /proxy routes.
type ProxyPool interface {
	Add(ctx context.Context, raw string) (*models.Proxy, error)
	Remove(ctx context.Context, id uint) error
	List(ctx context.Context) ([]models.Proxy, error)
	SelectRandom(ctx context.Context) (models.Proxy, bool)
	TestAndRecord(ctx context.Context, proxyURL string) proxypool.TestResult
	BatchTest(ctx context.Context) (proxypool.BatchReport, error)
}

// Importer loads legacy account files.
type Importer interface {
	Run(ctx context.Context) (int, error)
}
