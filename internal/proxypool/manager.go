// Package proxypool keeps the set of outbound proxies healthy and hands out
// fast ones for activation calls.
package proxypool

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"activator/internal/metrics"
	"activator/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// selectionWindow is how many of the fastest active proxies SelectRandom picks from.
	selectionWindow = 10

	DefaultTestURL     = "https://httpbin.org/ip"
	DefaultTestTimeout = 10 * time.Second
)

// Store is the persistence the manager needs.
type Store interface {
	UpsertProxy(ctx context.Context, p *models.Proxy) (*models.Proxy, error)
	DeleteProxy(ctx context.Context, id uint) error
	ListProxies(ctx context.Context) ([]models.Proxy, error)
	ProxyByURL(ctx context.Context, url string) (*models.Proxy, error)
	ActiveProxies(ctx context.Context, limit int) ([]models.Proxy, error)
	RecordProxySuccess(ctx context.Context, id uint, responseTime float64) error
	RecordProxyFailure(ctx context.Context, id uint) error
}

// Options configures health probing. Zero values select the defaults.
type Options struct {
	TestURL     string
	TestTimeout time.Duration
	// Concurrency bounds BatchTest; values below 1 mean one at a time.
	Concurrency int
}

// Manager adds, tests and hands out proxies from the stored pool.
type Manager struct {
	store       Store
	log         *zap.SugaredLogger
	testURL     string
	timeout     time.Duration
	concurrency int
	intn        func(n int) int
}

// NewManager returns a manager over store. lg may be nil.
func NewManager(store Store, opts Options, lg *zap.SugaredLogger) *Manager {
	if opts.TestURL == "" {
		opts.TestURL = DefaultTestURL
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Manager{
		store:       store,
		log:         lg,
		testURL:     opts.TestURL,
		timeout:     opts.TestTimeout,
		concurrency: opts.Concurrency,
		intn:        rand.IntN,
	}
}

// Add validates raw and stores it, replacing the connection fields of an
// existing row with the same URL.
func (m *Manager) Add(ctx context.Context, raw string) (*models.Proxy, error) {
	p, err := ParseProxyURL(raw)
	if err != nil {
		return nil, err
	}
	saved, err := m.store.UpsertProxy(ctx, &p)
	if err != nil {
		return nil, err
	}
	m.log.Infow("proxy added", "proxy_id", saved.ID, "protocol", saved.Protocol, "host", saved.Host)
	return saved, nil
}

func (m *Manager) Remove(ctx context.Context, id uint) error {
	if err := m.store.DeleteProxy(ctx, id); err != nil {
		return err
	}
	m.log.Infow("proxy removed", "proxy_id", id)
	return nil
}

func (m *Manager) List(ctx context.Context) ([]models.Proxy, error) {
	return m.store.ListProxies(ctx)
}

// SelectRandom picks uniformly among the fastest active proxies. ok is false
// only when no proxy is active.
func (m *Manager) SelectRandom(ctx context.Context) (p models.Proxy, ok bool) {
	active, err := m.store.ActiveProxies(ctx, selectionWindow)
	if err != nil {
		m.log.Warnw("select proxy failed", "err", err)
		return models.Proxy{}, false
	}
	if len(active) == 0 {
		return models.Proxy{}, false
	}
	return active[m.intn(len(active))], true
}

// TestResult is the outcome of one probe through a proxy.
type TestResult struct {
	ID           uint    `json:"id,omitempty"`
	ProxyURL     string  `json:"proxy_url"`
	Success      bool    `json:"success"`
	ResponseTime float64 `json:"response_time,omitempty"`
	StatusCode   int     `json:"status_code,omitempty"`
	Response     string  `json:"response,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Test sends one GET to the probe URL through proxyURL. It never returns an
// error; failures are reported in the result.
func (m *Manager) Test(ctx context.Context, proxyURL string) TestResult {
	res := TestResult{ProxyURL: proxyURL}
	client, err := HTTPClient(proxyURL, m.timeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.testURL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	res.ResponseTime = time.Since(start).Seconds()
	res.StatusCode = resp.StatusCode
	res.Response = string(body)
	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return res
	}
	res.Success = true
	return res
}

// RecordOutcome updates the health counters of proxy id.
func (m *Manager) RecordOutcome(ctx context.Context, id uint, success bool, responseTime float64) error {
	metrics.TrackProxyCheck(success)
	if success {
		return m.store.RecordProxySuccess(ctx, id, responseTime)
	}
	return m.store.RecordProxyFailure(ctx, id)
}

// TestAndRecord tests proxyURL and, when it is in the pool, records the outcome.
func (m *Manager) TestAndRecord(ctx context.Context, proxyURL string) TestResult {
	res := m.Test(ctx, proxyURL)
	stored, err := m.store.ProxyByURL(ctx, proxyURL)
	if err != nil {
		return res
	}
	res.ID = stored.ID
	if err := m.RecordOutcome(ctx, stored.ID, res.Success, res.ResponseTime); err != nil {
		m.log.Warnw("record proxy outcome failed", "proxy_id", stored.ID, "err", err)
	}
	return res
}

// BatchReport summarizes BatchTest. Details follow list order.
type BatchReport struct {
	Total   int          `json:"total"`
	Tested  int          `json:"tested"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Details []TestResult `json:"details"`
}

// BatchTest tests every stored proxy once and records each outcome.
func (m *Manager) BatchTest(ctx context.Context) (BatchReport, error) {
	proxies, err := m.store.ListProxies(ctx)
	if err != nil {
		return BatchReport{}, err
	}
	details := make([]TestResult, len(proxies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, p := range proxies {
		g.Go(func() error {
			m.log.Debugw("testing proxy", "proxy_id", p.ID)
			res := m.Test(gctx, p.ProxyURL)
			res.ID = p.ID
			if err := m.RecordOutcome(gctx, p.ID, res.Success, res.ResponseTime); err != nil {
				m.log.Warnw("record proxy outcome failed", "proxy_id", p.ID, "err", err)
			}
			details[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Total: len(proxies), Details: details}
	for _, d := range details {
		report.Tested++
		if d.Success {
			report.Success++
		} else {
			report.Failed++
		}
	}
	m.log.Infow("proxy batch test finished", "total", report.Total, "success", report.Success)
	return report, nil
}
