// Command activator runs the unattended activation job against every due
// account of one session, once or on an interval.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"activator/internal/activation"
	"activator/internal/app"
	"activator/internal/config"
	"activator/internal/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	key := flag.String("key", "", "activation key (overrides ACTIVATION_KEY)")
	session := flag.String("session", "", "session id to activate for (overrides SCHEDULER_SESSION_ID)")
	maxCount := flag.Int("max-activations", 0, "activation quota per account (overrides MAX_ACTIVATION_COUNT)")
	interval := flag.Duration("interval", 0, "repeat the run at this interval; 0 runs once")
	migrateDir := flag.String("migrate-dir", "", "import legacy account JSON files from this directory and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalw("config", "error", err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()

	if *key != "" {
		cfg.ActivationKey = *key
	}
	if *session != "" {
		cfg.SchedulerSessionID = *session
	}
	if *maxCount > 0 {
		cfg.MaxActivationCount = *maxCount
	}
	if *migrateDir != "" {
		cfg.MigrateDir = *migrateDir
	}

	svc, err := app.Build(cfg, lg)
	if err != nil {
		lg.Fatalw("startup failed", "error", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateDir != "" {
		n, err := svc.Importer.Run(ctx)
		if err != nil {
			lg.Fatalw("migrate data", "dir", cfg.MigrateDir, "error", err)
		}
		lg.Infow("migrate data finished", "dir", cfg.MigrateDir, "session_id", cfg.MigrateSessionID, "migrated", n)
		return
	}

	id, err := svc.Gate.Identify(cfg.SchedulerSessionID)
	if err != nil {
		lg.Fatalw("scheduler session", "session_id", cfg.SchedulerSessionID, "error", err)
	}
	if err := svc.Store.CreateSession(ctx, id.SessionID); err != nil {
		lg.Fatalw("register session", "error", err)
	}

	runner := activation.NewRunner(activation.RunnerConfig{
		SessionID:          id.SessionID,
		IsAdmin:            id.IsAdmin,
		Key:                cfg.ActivationKey,
		MaxActivationCount: cfg.MaxActivationCount,
		MaxRetries:         cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay,
		MinSleep:           cfg.MinSleep,
		MaxSleep:           cfg.MaxSleep,
		LogPath:            cfg.RunLogPath,
	}, svc.Scheduler, svc.Store, svc.Engine, lg.Named("runner"))

	for {
		runLog := lg.With("run_id", uuid.NewString())
		stats, err := runner.Run(ctx)
		switch {
		case errors.Is(err, activation.ErrNoKey):
			runLog.Fatalw("no activation key; set ACTIVATION_KEY or -key")
		case err != nil && ctx.Err() == nil:
			runLog.Errorw("run failed", "error", err)
		default:
			runLog.Infow("run complete", "processed", stats.Processed, "success", stats.Success,
				"failed", stats.Failed, "skipped", stats.Skipped)
		}

		if *interval <= 0 || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
