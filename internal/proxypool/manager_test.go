package proxypool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"activator/internal/db"
	"activator/internal/store"
)

const probeURL = "http://probe.test/ip"

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	conn, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "proxy.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	st := store.New(conn)
	return NewManager(st, Options{TestURL: probeURL, TestTimeout: 2 * time.Second, Concurrency: 2}, nil), st
}

// fakeProxy answers forward-proxy requests for the probe host with status code.
func fakeProxy(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host != "probe.test" {
			http.Error(w, "unexpected host "+r.URL.Host, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprint(w, `{"origin":"203.0.113.7"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadProxyURL(t *testing.T) string {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestTest(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	good := m.Test(ctx, fakeProxy(t, http.StatusOK).URL)
	if !good.Success || good.StatusCode != http.StatusOK || good.ResponseTime <= 0 {
		t.Errorf("good proxy = %+v, want success with latency", good)
	}

	bad := m.Test(ctx, fakeProxy(t, http.StatusBadGateway).URL)
	if bad.Success || bad.StatusCode != http.StatusBadGateway {
		t.Errorf("502 proxy = %+v, want failure with status code", bad)
	}

	dead := m.Test(ctx, deadProxyURL(t))
	if dead.Success || dead.Error == "" {
		t.Errorf("dead proxy = %+v, want failure with error", dead)
	}
}

func TestTestAndRecord(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	goodURL := fakeProxy(t, http.StatusOK).URL
	badURL := fakeProxy(t, http.StatusBadGateway).URL
	for _, u := range []string{goodURL, badURL} {
		if _, err := m.Add(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	if res := m.TestAndRecord(ctx, goodURL); !res.Success || res.ID == 0 {
		t.Errorf("TestAndRecord(good) = %+v", res)
	}
	m.TestAndRecord(ctx, badURL)

	good, err := st.ProxyByURL(ctx, goodURL)
	if err != nil {
		t.Fatal(err)
	}
	if good.SuccessCount != 1 || good.ResponseTime == nil {
		t.Errorf("good proxy row = %+v, want one success with latency", good)
	}
	bad, err := st.ProxyByURL(ctx, badURL)
	if err != nil {
		t.Fatal(err)
	}
	if bad.FailCount != 1 || !bad.IsActive {
		t.Errorf("bad proxy row = %+v, want one failure, still active", bad)
	}

	// Unknown URLs are tested but not recorded.
	if res := m.TestAndRecord(ctx, fakeProxy(t, http.StatusOK).URL); res.ID != 0 || !res.Success {
		t.Errorf("unstored proxy = %+v", res)
	}
}

func TestSelectRandom(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	if _, ok := m.SelectRandom(ctx); ok {
		t.Fatal("SelectRandom on empty pool returned a proxy")
	}

	for i := 1; i <= 12; i++ {
		p, err := m.Add(ctx, fmt.Sprintf("http://10.0.0.%d:8080", i))
		if err != nil {
			t.Fatal(err)
		}
		if err := st.RecordProxySuccess(ctx, p.ID, float64(i)); err != nil {
			t.Fatal(err)
		}
	}

	var window int
	m.intn = func(n int) int { window = n; return n - 1 }
	p, ok := m.SelectRandom(ctx)
	if !ok {
		t.Fatal("SelectRandom found no proxy")
	}
	if window != selectionWindow {
		t.Errorf("picked among %d proxies, want %d", window, selectionWindow)
	}
	if p.ProxyURL != "http://10.0.0.10:8080" {
		t.Errorf("slowest pick = %s, want the 10th fastest", p.ProxyURL)
	}

	// Deactivated proxies are never returned.
	all, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range all {
		for i := 0; i < store.MaxProxyFailures; i++ {
			if err := m.RecordOutcome(ctx, p.ID, false, 0); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, ok := m.SelectRandom(ctx); ok {
		t.Error("SelectRandom returned a proxy with none active")
	}
}

func TestBatchTest(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	urls := []string{fakeProxy(t, http.StatusOK).URL, fakeProxy(t, http.StatusInternalServerError).URL, deadProxyURL(t)}
	for _, u := range urls {
		if _, err := m.Add(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	listed, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}

	report, err := m.BatchTest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 3 || report.Tested != 3 || report.Success != 1 || report.Failed != 2 {
		t.Errorf("report = %+v, want 3 tested, 1 success, 2 failed", report)
	}
	for i, d := range report.Details {
		if d.ID != listed[i].ID {
			t.Errorf("details[%d].ID = %d, want %d", i, d.ID, listed[i].ID)
		}
	}

	after, err := m.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range after {
		if p.SuccessCount+p.FailCount != 1 {
			t.Errorf("proxy %d recorded %d outcomes, want 1", p.ID, p.SuccessCount+p.FailCount)
		}
	}
}
