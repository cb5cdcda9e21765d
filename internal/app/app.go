// Package app wires configuration into the services shared by both binaries.
package app

import (
	"fmt"

	"activator/internal/activation"
	"activator/internal/auth"
	"activator/internal/config"
	"activator/internal/db"
	"activator/internal/importer"
	"activator/internal/proxypool"
	"activator/internal/scheduler"
	"activator/internal/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Services struct {
	DB        *gorm.DB
	Store     *store.Store
	Gate      *auth.Gate
	Proxies   *proxypool.Manager
	Scheduler *scheduler.Scheduler
	Engine    *activation.Engine
	Importer  *importer.Importer
}

// Build opens the database and constructs every service from cfg.
func Build(cfg *config.Config, lg *zap.SugaredLogger) (*Services, error) {
	if !auth.IsValidSessionID(cfg.MigrateSessionID) {
		return nil, fmt.Errorf("app: MIGRATE_SESSION_ID %q: %w", cfg.MigrateSessionID, auth.ErrInvalidSession)
	}
	conn, err := db.Open(db.Options{DSN: cfg.DatabaseURL, Path: cfg.DatabasePath, Logger: lg})
	if err != nil {
		return nil, err
	}
	st := store.New(conn)
	proxies := proxypool.NewManager(st, proxypool.Options{
		TestURL:     cfg.ProxyTestURL,
		TestTimeout: cfg.ProxyTestTimeout,
		Concurrency: cfg.ProxyTestConcurrency,
	}, lg.Named("proxypool"))

	injOpts := activation.InjectorOptions{
		BaseURL: cfg.ActivationBaseURL,
		Timeout: cfg.ActivationTimeout,
		RPS:     cfg.ActivationRPS,
	}
	if cfg.UseProxyPool {
		injOpts.Proxies = proxies
	}
	inj := activation.NewHTTPInjector(injOpts, lg.Named("injector"))

	return &Services{
		DB:        conn,
		Store:     st,
		Gate:      auth.NewGate(cfg.AdminSessionID, st),
		Proxies:   proxies,
		Scheduler: scheduler.New(st),
		Engine: activation.NewEngine(inj, st, activation.Options{
			Concurrency:  cfg.ActivationConcurrency,
			BatchTimeout: cfg.ActivationBatchTimeout,
		}, lg.Named("activation")),
		Importer: importer.New(st, cfg.MigrateDir, cfg.MigrateSessionID, lg.Named("importer")),
	}, nil
}

// Close releases the database handle.
func (s *Services) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
