package activation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"activator/internal/metrics"
	"activator/internal/models"
	"activator/internal/store"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrNoKey is returned by Runner.Run when no activation key is configured.
var ErrNoKey = errors.New("activation key not set")

// DueSource lists accounts that still need activation.
type DueSource interface {
	Due(ctx context.Context, sessionID string, isAdmin bool, maxActivationCount int) ([]models.Account, error)
}

// AccountReader re-reads one account right before it is processed.
type AccountReader interface {
	GetAccount(ctx context.Context, sessionID string, id uint, isAdmin bool) (*models.Account, error)
}

type RunnerConfig struct {
	SessionID          string
	IsAdmin            bool
	Key                string
	MaxActivationCount int
	MaxRetries         int
	RetryDelay         time.Duration
	MinSleep           time.Duration
	MaxSleep           time.Duration
	// LogPath receives one summary line per run; empty disables it.
	LogPath string
}

type RunStats struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Runner is the unattended activation job: one pass over the due accounts of
// a single session.
type Runner struct {
	cfg      RunnerConfig
	due      DueSource
	accounts AccountReader
	engine   *Engine
	log      *zap.SugaredLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(cfg RunnerConfig, due DueSource, accounts AccountReader, engine *Engine, lg *zap.SugaredLogger) *Runner {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Runner{
		cfg:      cfg,
		due:      due,
		accounts: accounts,
		engine:   engine,
		log:      lg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if r.cfg.Key == "" {
		return stats, ErrNoKey
	}
	accounts, err := r.due.Due(ctx, r.cfg.SessionID, r.cfg.IsAdmin, r.cfg.MaxActivationCount)
	if err != nil {
		return stats, fmt.Errorf("list due accounts: %w", err)
	}
	r.log.Infow("activation run started", "session_id", r.cfg.SessionID, "admin", r.cfg.IsAdmin, "due", len(accounts))
	if len(accounts) == 0 {
		return stats, nil
	}

	batch := Batch{SessionID: r.cfg.SessionID, IsAdmin: r.cfg.IsAdmin, Key: r.cfg.Key}
	for i, acc := range accounts {
		if ctx.Err() != nil {
			break
		}
		stats.Processed++
		name := accountName(acc)

		switch ok, err := r.underQuota(ctx, acc.ID); {
		case err != nil:
			r.log.Warnw("re-read account failed", "account", name, "err", err)
			stats.Failed++
		case !ok:
			r.log.Infow("quota reached, skipping", "account", name)
			metrics.TrackActivation("offline", "skipped")
			stats.Skipped++
		default:
			if res := r.activateWithRetry(ctx, batch, acc, name); res.Status != StatusSuccess {
				r.log.Warnw("account activation failed", "account", name, "updated", res.Updated, "err", res.Message)
				stats.Failed++
			} else {
				r.log.Infow("account activated", "account", name, "activation_count", acc.ActivationStatus+1)
				stats.Success++
			}
		}

		if i < len(accounts)-1 {
			if err := r.sleep(ctx, randomBetween(r.cfg.MinSleep, r.cfg.MaxSleep)); err != nil {
				break
			}
		}
	}

	r.log.Infow("activation run finished",
		"processed", stats.Processed, "success", stats.Success, "failed", stats.Failed, "skipped", stats.Skipped)
	if err := r.appendRunLog(stats); err != nil {
		r.log.Warnw("write run log failed", "path", r.cfg.LogPath, "err", err)
	}
	return stats, ctx.Err()
}

func (r *Runner) underQuota(ctx context.Context, id uint) (bool, error) {
	fresh, err := r.accounts.GetAccount(ctx, r.cfg.SessionID, id, r.cfg.IsAdmin)
	if err != nil {
		return false, err
	}
	limit := r.cfg.MaxActivationCount
	if limit <= 0 {
		limit = 3
	}
	return fresh.ActivationStatus < limit, nil
}

// activateWithRetry retries only the external call, up to MaxRetries times
// with a fixed delay, and returns the last failure. Each attempt runs to
// completion even if ctx is cancelled; ctx only stops further attempts. A
// failed write-back after a successful call is final.
func (r *Runner) activateWithRetry(ctx context.Context, b Batch, acc models.Account, name string) Result {
	return r.engine.activateWith(ctx, b, acc, "offline", func(ctx context.Context, p models.AccountPayload) (TokenBundle, error) {
		attempt := 0
		return backoff.Retry(ctx, func() (TokenBundle, error) {
			attempt++
			return r.engine.inj.Inject(context.WithoutCancel(ctx), p, b.Key)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.RetryDelay)),
			backoff.WithMaxTries(uint(r.cfg.MaxRetries)),
			backoff.WithNotify(func(err error, next time.Duration) {
				r.log.Infow("activation attempt failed, retrying", "account", name, "attempt", attempt, "retry_in", next, "err", err)
			}),
		)
	})
}

func (r *Runner) appendRunLog(s RunStats) error {
	if r.cfg.LogPath == "" || s.Processed == 0 {
		return nil
	}
	f, err := os.OpenFile(r.cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s - processed:%d, success:%d, failed:%d, skipped:%d\n",
		r.now().Format("2006-01-02 15:04:05"), s.Processed, s.Success, s.Failed, s.Skipped)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func accountName(acc models.Account) string {
	if acc.Name != "" {
		return acc.Name
	}
	p, _ := acc.DecodePayload()
	if n := p.DisplayName(); n != "" {
		return n
	}
	return acc.Email
}

var _ AccountReader = (*store.Store)(nil)
