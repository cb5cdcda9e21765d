package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"activator/internal/models"
	"activator/internal/store"
)

type staticDue struct {
	accounts []models.Account
}

func (s staticDue) Due(context.Context, string, bool, int) ([]models.Account, error) {
	return s.accounts, nil
}

// flakyInjector fails the first failures[email] calls for that email.
type flakyInjector struct {
	failures map[string]int
	calls    map[string]int
}

func (f *flakyInjector) Inject(_ context.Context, p models.AccountPayload, _ string) (TokenBundle, error) {
	f.calls[p.Email]++
	if f.calls[p.Email] <= f.failures[p.Email] {
		return TokenBundle{}, ErrProtocol
	}
	return TokenBundle{AccessToken: "fresh"}, nil
}

func TestRunnerRun(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 3)
	// The third account hit its quota after the due list was built.
	for i := 0; i < 3; i++ {
		if _, err := st.IncrementActivation(context.Background(), tenant, accs[2].ID, false); err != nil {
			t.Fatal(err)
		}
	}

	inj := &flakyInjector{
		failures: map[string]int{"user1@example.com": 2, "user2@example.com": 10},
		calls:    map[string]int{},
	}
	logPath := filepath.Join(t.TempDir(), "stats.log")
	r := NewRunner(RunnerConfig{
		SessionID:          tenant,
		Key:                "K",
		MaxActivationCount: 3,
		MaxRetries:         3,
		RetryDelay:         time.Millisecond,
		LogPath:            logPath,
	}, staticDue{accs}, st, NewEngine(inj, st, Options{}, nil), nil)
	var sleeps int
	r.sleep = func(context.Context, time.Duration) error { sleeps++; return nil }
	r.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local) }

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := RunStats{Processed: 3, Success: 1, Failed: 1, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if inj.calls["user1@example.com"] != 3 {
		t.Errorf("user1 attempts = %d, want 3", inj.calls["user1@example.com"])
	}
	if inj.calls["user2@example.com"] != 3 {
		t.Errorf("user2 attempts = %d, want MaxRetries", inj.calls["user2@example.com"])
	}
	if inj.calls["user3@example.com"] != 0 {
		t.Errorf("skipped account was submitted %d times", inj.calls["user3@example.com"])
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2", sleeps)
	}

	got, err := st.GetAccount(context.Background(), tenant, accs[0].ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActivationStatus != 1 {
		t.Errorf("retried account activation_status = %d, want 1", got.ActivationStatus)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	line := "2024-05-06 07:08:09 - processed:3, success:1, failed:1, skipped:1\n"
	if string(raw) != line {
		t.Errorf("run log = %q, want %q", raw, line)
	}

	// A second run appends.
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(logPath)
	if n := strings.Count(string(raw), "\n"); n != 2 {
		t.Errorf("run log has %d lines, want 2", n)
	}
}

// failingWrites lets the endpoint call succeed but rejects the token write.
type failingWrites struct {
	*store.Store
}

func (failingWrites) UpdateAccount(context.Context, string, uint, models.AccountPayload, bool) (*models.Account, error) {
	return nil, errors.New("disk full")
}

func TestRunnerDoesNotResubmitAfterWriteFailure(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 1)
	inj := &flakyInjector{calls: map[string]int{}}
	r := NewRunner(RunnerConfig{
		SessionID:          tenant,
		Key:                "K",
		MaxActivationCount: 3,
		MaxRetries:         3,
		RetryDelay:         time.Millisecond,
	}, staticDue{accs}, st, NewEngine(inj, failingWrites{st}, Options{}, nil), nil)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Success != 0 {
		t.Errorf("stats = %+v, want one failure", stats)
	}
	if n := inj.calls["user1@example.com"]; n != 1 {
		t.Errorf("endpoint calls = %d, want 1", n)
	}
}

func TestRunnerFinishesInFlightAccountOnSignal(t *testing.T) {
	st := newTestStore(t)
	accs := seed(t, st, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inj := &cancellingInjector{cancel: cancel}
	r := NewRunner(RunnerConfig{
		SessionID:          tenant,
		Key:                "K",
		MaxActivationCount: 3,
		MaxRetries:         3,
		RetryDelay:         time.Millisecond,
	}, staticDue{accs}, st, NewEngine(inj, st, Options{}, nil), nil)

	stats, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stats.Processed != 1 || stats.Success != 1 {
		t.Errorf("stats = %+v, want one processed success", stats)
	}
	assertActivated(t, st, accs[0], 1, "new-K")
	assertActivated(t, st, accs[1], 0, "old")
}

func TestRunnerRequiresKey(t *testing.T) {
	r := NewRunner(RunnerConfig{SessionID: tenant}, staticDue{}, nil, nil, nil)
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrNoKey) {
		t.Errorf("err = %v, want ErrNoKey", err)
	}
}

func TestRunnerNothingDue(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stats.log")
	r := NewRunner(RunnerConfig{SessionID: tenant, Key: "K", LogPath: logPath}, staticDue{}, nil, nil, nil)
	stats, err := r.Run(context.Background())
	if err != nil || stats != (RunStats{}) {
		t.Errorf("Run = %+v, %v; want empty stats", stats, err)
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Errorf("run log written for an empty run")
	}
}

func TestAccountName(t *testing.T) {
	if got := accountName(models.Account{Name: "alice", Email: "a@x.io"}); got != "alice" {
		t.Errorf("accountName = %q, want alice", got)
	}
	acc := models.Account{Email: "bob@x.io"}
	if err := acc.SetPayload(models.AccountPayload{Email: "bob@x.io"}); err != nil {
		t.Fatal(err)
	}
	acc.Name = ""
	if got := accountName(acc); got != "bob" {
		t.Errorf("accountName = %q, want bob", got)
	}
}
