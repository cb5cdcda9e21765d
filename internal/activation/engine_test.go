package activation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"activator/internal/db"
	"activator/internal/models"
	"activator/internal/store"
)

const tenant = "abc12345"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "activation.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.New(conn)
}

func seed(t *testing.T, st *store.Store, n int) []models.Account {
	t.Helper()
	out := make([]models.Account, 0, n)
	for i := 1; i <= n; i++ {
		acc, err := st.SaveAccount(context.Background(), tenant, models.AccountPayload{
			Email:       fmt.Sprintf("user%d@example.com", i),
			AccessToken: "old",
		})
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, *acc)
	}
	return out
}

// fakeInjector fails for emails in failFor and tracks peak concurrency.
type fakeInjector struct {
	failFor  map[string]bool
	panicFor map[string]bool
	delay    time.Duration

	mu       sync.Mutex
	calls    map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeInjector) Inject(ctx context.Context, p models.AccountPayload, key string) (TokenBundle, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[p.Email]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicFor[p.Email] {
		panic("boom")
	}
	if f.failFor[p.Email] {
		return TokenBundle{}, fmt.Errorf("%w: HTTP 502", ErrTransport)
	}
	return TokenBundle{AccessToken: "new-" + key}, nil
}

func TestRunConcurrentIsolatesFailures(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 5)
	inj := &fakeInjector{failFor: map[string]bool{"user3@example.com": true}, delay: 20 * time.Millisecond}
	e := NewEngine(inj, st, Options{Concurrency: 2}, nil)

	sum := e.RunConcurrent(context.Background(), Batch{SessionID: tenant, Key: "K", Accounts: accs})
	if sum.SuccessCount != 4 || sum.UpdatedCount != 4 {
		t.Errorf("summary = %d success / %d updated, want 4/4", sum.SuccessCount, sum.UpdatedCount)
	}
	if len(sum.Results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(sum.Results))
	}
	for i, r := range sum.Results {
		if r.ID != accs[i].ID {
			t.Errorf("results[%d].ID = %d, want %d", i, r.ID, accs[i].ID)
		}
	}
	if r := sum.Results[2]; r.Status != StatusError || r.Message == "" {
		t.Errorf("third result = %+v, want error with message", r)
	}
	if r := sum.Results[0]; r.Status != StatusSuccess || r.ActivationCount != 1 || !r.Updated {
		t.Errorf("first result = %+v, want success with count 1", r)
	}
	if peak := inj.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}

	for i, acc := range accs {
		got, err := st.GetAccount(context.Background(), tenant, acc.ID, false)
		if err != nil {
			t.Fatal(err)
		}
		p, _ := got.DecodePayload()
		if i == 2 {
			if got.ActivationStatus != 0 || p.AccessToken != "old" {
				t.Errorf("failed account changed: status=%d token=%q", got.ActivationStatus, p.AccessToken)
			}
			continue
		}
		if got.ActivationStatus != 1 || p.AccessToken != "new-K" || got.Token != "new-K" {
			t.Errorf("account %d: status=%d token=%q column=%q, want 1/new-K", i, got.ActivationStatus, p.AccessToken, got.Token)
		}
	}
}

func TestRunConcurrentRecoversPanics(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	inj := &fakeInjector{panicFor: map[string]bool{"user1@example.com": true}}
	sum := NewEngine(inj, st, Options{}, nil).RunConcurrent(context.Background(), Batch{SessionID: tenant, Key: "K", Accounts: accs})
	if sum.SuccessCount != 2 || sum.Results[0].Status != StatusError {
		t.Errorf("summary = %+v, want first failed and two successes", sum)
	}
}

func TestRunConcurrentForeignAccount(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 1)
	inj := &fakeInjector{}
	sum := NewEngine(inj, st, Options{}, nil).RunConcurrent(context.Background(), Batch{SessionID: "zzz99999", Key: "K", Accounts: accs})
	if sum.SuccessCount != 0 || sum.Results[0].Updated {
		t.Errorf("foreign batch = %+v, want no success and no update", sum)
	}
	got, err := st.GetAccount(context.Background(), tenant, accs[0].ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActivationStatus != 0 {
		t.Errorf("activation_status = %d, want 0", got.ActivationStatus)
	}
}

func TestRunSequentialEvents(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	inj := &fakeInjector{failFor: map[string]bool{"user2@example.com": true}}
	e := NewEngine(inj, st, Options{}, nil)
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }
	e.jitter = func(lo, hi time.Duration) time.Duration { return hi }

	var events []Event
	err := e.RunSequential(context.Background(), Batch{
		SessionID: tenant, Key: "K", Accounts: accs, DelayMin: time.Second, DelayMax: 2 * time.Second,
	}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var statuses []string
	for _, ev := range events {
		statuses = append(statuses, ev.Status)
	}
	want := []string{
		EventStart,
		EventProcessing, EventResult, EventDelay,
		EventProcessing, EventResult, EventDelay,
		EventProcessing, EventResult,
		EventComplete,
	}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", statuses, want)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want two 2s pauses", slept)
	}
	last := events[len(events)-1]
	if last.SuccessCount != 2 || last.FailedCount != 1 {
		t.Errorf("complete = %+v, want 2 success 1 failed", last)
	}
	if r := events[5].Result; r == nil || r.Status != StatusError {
		t.Errorf("second result = %+v, want error", r)
	}
}

func TestRunSequentialStopsWhenEmitFails(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	e := NewEngine(&fakeInjector{}, st, Options{}, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	closed := errors.New("client gone")

	err := e.RunSequential(context.Background(), Batch{SessionID: tenant, Key: "K", Accounts: accs}, func(ev Event) error {
		if ev.Status == EventDelay {
			return closed
		}
		return nil
	})
	if !errors.Is(err, closed) {
		t.Fatalf("err = %v, want emit error", err)
	}
	for i, acc := range accs {
		got, err := st.GetAccount(context.Background(), tenant, acc.ID, false)
		if err != nil {
			t.Fatal(err)
		}
		want := 0
		if i == 0 {
			want = 1
		}
		if got.ActivationStatus != want {
			t.Errorf("account %d activation_status = %d, want %d", i, got.ActivationStatus, want)
		}
	}
}

func TestRunSequentialStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 2)
	e := NewEngine(&fakeInjector{}, st, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}
	var processed int
	err := e.RunSequential(ctx, Batch{SessionID: tenant, Key: "K", Accounts: accs}, func(ev Event) error {
		if ev.Status == EventProcessing {
			processed++
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
}

// cancellingInjector cancels its caller during the first call, then reports
// success as the remote side would. Calls made with a done context fail.
type cancellingInjector struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (c *cancellingInjector) Inject(ctx context.Context, _ models.AccountPayload, key string) (TokenBundle, error) {
	if err := ctx.Err(); err != nil {
		return TokenBundle{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if c.calls.Add(1) == 1 {
		c.cancel()
	}
	return TokenBundle{AccessToken: "new-" + key}, nil
}

func assertActivated(t *testing.T, st *store.Store, acc models.Account, wantCount int, wantToken string) {
	t.Helper()
	got, err := st.GetAccount(context.Background(), tenant, acc.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := got.DecodePayload()
	if got.ActivationStatus != wantCount || p.AccessToken != wantToken {
		t.Errorf("%s: activation_status=%d access_token=%q, want %d/%q", acc.Email, got.ActivationStatus, p.AccessToken, wantCount, wantToken)
	}
}

func TestRunSequentialFinishesInFlightAccountOnCancel(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inj := &cancellingInjector{cancel: cancel}
	e := NewEngine(inj, st, Options{}, nil)
	e.jitter = func(lo, hi time.Duration) time.Duration { return time.Hour }

	var results []*Result
	err := e.RunSequential(ctx, Batch{SessionID: tenant, Key: "K", Accounts: accs}, func(ev Event) error {
		if ev.Status == EventResult {
			results = append(results, ev.Result)
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(results) != 1 || results[0].Status != StatusSuccess || !results[0].Updated {
		t.Fatalf("results = %+v, want one updated success", results)
	}
	if n := inj.calls.Load(); n != 1 {
		t.Errorf("inject calls = %d, want 1", n)
	}
	assertActivated(t, st, accs[0], 1, "new-K")
	assertActivated(t, st, accs[1], 0, "old")
}

func TestRunConcurrentKeepsTokensWhenCancelledMidCall(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inj := &cancellingInjector{cancel: cancel}

	sum := NewEngine(inj, st, Options{Concurrency: 1}, nil).RunConcurrent(ctx, Batch{SessionID: tenant, Key: "K", Accounts: accs})
	if r := sum.Results[0]; r.Status != StatusSuccess || !r.Updated {
		t.Errorf("first result = %+v, want updated success", r)
	}
	for _, r := range sum.Results[1:] {
		if r.Status != StatusError || r.Updated {
			t.Errorf("result after cancel = %+v, want error without update", r)
		}
	}
	assertActivated(t, st, accs[0], 1, "new-K")
	assertActivated(t, st, accs[1], 0, "old")
}

func TestRunConcurrentDetachedRunsToCompletion(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inj := &cancellingInjector{cancel: cancel}

	sum := NewEngine(inj, st, Options{Concurrency: 1}, nil).RunConcurrent(context.WithoutCancel(ctx), Batch{SessionID: tenant, Key: "K", Accounts: accs})
	if sum.SuccessCount != 3 {
		t.Errorf("success = %d, want 3", sum.SuccessCount)
	}
	for _, acc := range accs {
		assertActivated(t, st, acc, 1, "new-K")
	}
}

func TestRandomBetween(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomBetween(time.Second, 3*time.Second)
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("randomBetween = %v, out of range", d)
		}
	}
	if d := randomBetween(2*time.Second, time.Second); d != 2*time.Second {
		t.Errorf("inverted range = %v, want lower bound", d)
	}
}
