// Package activation submits stored accounts to the external activation
// endpoint and writes the returned credentials back.
package activation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"activator/internal/metrics"
	"activator/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency  = 5
	DefaultBatchTimeout = 10 * time.Minute
	DefaultDelayMin     = 10 * time.Second
	DefaultDelayMax     = 30 * time.Second
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Store is the write side the engine needs after a successful activation.
type Store interface {
	UpdateAccount(ctx context.Context, sessionID string, id uint, p models.AccountPayload, isAdmin bool) (*models.Account, error)
	IncrementActivation(ctx context.Context, sessionID string, id uint, isAdmin bool) (int, error)
}

// Batch is one activation request on behalf of a caller.
type Batch struct {
	SessionID string
	IsAdmin   bool
	Key       string
	Accounts  []models.Account
	// DelayMin and DelayMax bound the pause between accounts in sequential
	// mode. Zero means no pause.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Result is the outcome for one account.
type Result struct {
	ID              uint   `json:"id"`
	Account         string `json:"account"`
	Status          string `json:"status"`
	Updated         bool   `json:"updated"`
	ActivationCount int    `json:"activationCount,omitempty"`
	Message         string `json:"message,omitempty"`
}

type Summary struct {
	SuccessCount int      `json:"success_count"`
	UpdatedCount int      `json:"updated_count"`
	Results      []Result `json:"results"`
}

type Options struct {
	Concurrency  int
	BatchTimeout time.Duration
}

// Engine runs activation batches against an Injector and writes results to a Store.
type Engine struct {
	inj          Injector
	store        Store
	log          *zap.SugaredLogger
	concurrency  int
	batchTimeout time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

func NewEngine(inj Injector, st Store, opts Options, lg *zap.SugaredLogger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Engine{
		inj:          inj,
		store:        st,
		log:          lg,
		concurrency:  opts.Concurrency,
		batchTimeout: opts.BatchTimeout,
		sleep:        sleepCtx,
		jitter:       randomBetween,
	}
}

// injectFunc performs the external call for one decoded payload.
type injectFunc func(ctx context.Context, p models.AccountPayload) (TokenBundle, error)

// activate runs one account end to end. It never panics and never touches
// the activation count unless the endpoint and the token write both succeeded.
func (e *Engine) activate(ctx context.Context, b Batch, acc models.Account, strategy string) Result {
	return e.activateWith(ctx, b, acc, strategy, func(ctx context.Context, p models.AccountPayload) (TokenBundle, error) {
		return e.inj.Inject(ctx, p, b.Key)
	})
}

// activateWith is activate with a caller-supplied external call. After a
// successful inject the write-back runs detached from ctx and always completes.
func (e *Engine) activateWith(ctx context.Context, b Batch, acc models.Account, strategy string, inject injectFunc) (res Result) {
	res = Result{ID: acc.ID, Account: acc.Email, Status: StatusError}
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("activation panicked", "account_id", acc.ID, "panic", r)
			res.Status = StatusError
			res.Message = fmt.Sprintf("internal error: %v", r)
		}
		metrics.TrackActivation(strategy, res.Status)
	}()

	p, err := acc.DecodePayload()
	if err != nil {
		res.Message = "stored account data is unreadable"
		return res
	}
	if p.Email == "" {
		p.Email = acc.Email
	}

	tokens, err := inject(ctx, p)
	if err != nil {
		e.log.Warnw("activation failed", "account_id", acc.ID, "strategy", strategy, "err", err)
		res.Message = err.Error()
		return res
	}
	return e.persist(context.WithoutCancel(ctx), b, acc, p, tokens, res)
}

// persist writes the returned tokens and bumps the activation count.
func (e *Engine) persist(ctx context.Context, b Batch, acc models.Account, p models.AccountPayload, tokens TokenBundle, res Result) Result {
	if _, err := e.store.UpdateAccount(ctx, b.SessionID, acc.ID, tokens.Apply(p), b.IsAdmin); err != nil {
		e.log.Errorw("store tokens failed", "account_id", acc.ID, "err", err)
		res.Message = fmt.Sprintf("activated but saving tokens failed: %v", err)
		return res
	}
	res.Updated = true

	if _, err := e.store.IncrementActivation(ctx, b.SessionID, acc.ID, b.IsAdmin); err != nil {
		e.log.Errorw("increment activation failed", "account_id", acc.ID, "err", err)
		res.Message = fmt.Sprintf("activated but updating the count failed: %v", err)
		return res
	}
	res.Status = StatusSuccess
	// Reported from the snapshot the batch started with.
	res.ActivationCount = acc.ActivationStatus + 1
	res.Message = "activated"
	return res
}

// RunConcurrent activates every account once with a bounded number of
// workers. Results keep the input order. The batch is bounded by the batch
// timeout; callers that must not abort it early pass a detached ctx.
func (e *Engine) RunConcurrent(ctx context.Context, b Batch) Summary {
	ctx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	results := make([]Result, len(b.Accounts))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, acc := range b.Accounts {
		g.Go(func() error {
			results[i] = e.activate(ctx, b, acc, "concurrent")
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			sum.SuccessCount++
		}
		if r.Updated {
			sum.UpdatedCount++
		}
	}
	e.log.Infow("concurrent activation finished", "session_id", b.SessionID, "total", len(results), "success", sum.SuccessCount)
	return sum
}

// Event statuses emitted by RunSequential. The HTTP layer adds EventInit and EventError.
const (
	EventInit       = "init"
	EventStart      = "start"
	EventProcessing = "processing"
	EventResult     = "result"
	EventDelay      = "delay"
	EventComplete   = "complete"
	EventError      = "error"
)

// Event is one progress message of a sequential run.
type Event struct {
	RunID        string  `json:"run_id,omitempty"`
	Status       string  `json:"status"`
	Message      string  `json:"message,omitempty"`
	Total        int     `json:"total,omitempty"`
	Index        int     `json:"index,omitempty"`
	Account      string  `json:"account,omitempty"`
	Result       *Result `json:"result,omitempty"`
	Delay        float64 `json:"delay,omitempty"`
	SuccessCount int     `json:"success_count,omitempty"`
	FailedCount  int     `json:"failed_count,omitempty"`
}

// RunSequential activates accounts one at a time, pausing a random delay
// between them, and reports progress through emit. It stops after the
// in-flight account when ctx is done or emit fails. The in-flight account
// itself is never cut short by ctx.
func (e *Engine) RunSequential(ctx context.Context, b Batch, emit func(Event) error) error {
	lo, hi := b.DelayMin, b.DelayMax
	if hi < lo {
		lo, hi = hi, lo
	}

	total := len(b.Accounts)
	if err := emit(Event{Status: EventStart, Total: total, Message: fmt.Sprintf("activating %d accounts", total)}); err != nil {
		return err
	}

	var success, failed int
	for i, acc := range b.Accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(Event{Status: EventProcessing, Total: total, Index: i + 1, Account: acc.Email}); err != nil {
			return err
		}
		res := e.activate(context.WithoutCancel(ctx), b, acc, "sequential")
		if res.Status == StatusSuccess {
			success++
		} else {
			failed++
		}
		if err := emit(Event{Status: EventResult, Total: total, Index: i + 1, Account: acc.Email, Result: &res}); err != nil {
			return err
		}

		if i == total-1 {
			break
		}
		d := e.jitter(lo, hi)
		if err := emit(Event{Status: EventDelay, Total: total, Index: i + 1, Delay: d.Seconds()}); err != nil {
			return err
		}
		if err := e.sleep(ctx, d); err != nil {
			return err
		}
	}

	return emit(Event{
		Status:       EventComplete,
		Total:        total,
		SuccessCount: success,
		FailedCount:  failed,
		Message:      fmt.Sprintf("%d succeeded, %d failed", success, failed),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randomBetween returns a uniform duration in [lo, hi].
func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
