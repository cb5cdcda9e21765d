// Package db opens the relational store: a single SQLite file by default, or
// Postgres when a DSN is configured.
package db

import (
	"fmt"
	"time"

	"activator/internal/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects the backing engine. DSN wins over Path when both are set.
type Options struct {
	DSN  string
	Path string
	// Logger receives slow-query and error output from gorm; nil silences it.
	Logger *zap.SugaredLogger
}

// Open connects and migrates the schema.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case opts.DSN != "":
		dialector = postgres.Open(opts.DSN)
	case opts.Path != "":
		// Single writer; the store serializes units of work itself.
		dialector = sqlite.Open(opts.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	default:
		return nil, fmt.Errorf("db: either DSN or Path is required")
	}

	gormCfg := &gorm.Config{
		Logger:  gormLogger(opts.Logger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sql handle: %w", err)
	}
	if opts.DSN == "" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate creates or updates the sessions, accounts and proxy_pool tables.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&models.Session{}, &models.Account{}, &models.Proxy{}); err != nil {
		return fmt.Errorf("db: automigrate: %w", err)
	}
	return nil
}

func gormLogger(lg *zap.SugaredLogger) logger.Interface {
	if lg == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	std, err := zap.NewStdLogAt(lg.Desugar().WithOptions(zap.AddCallerSkip(3)), zapcore.WarnLevel)
	if err != nil {
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.New(std, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
