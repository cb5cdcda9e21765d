package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"activator/internal/metrics"
	"activator/internal/models"
	"activator/internal/proxypool"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrTransport covers network failures and non-2xx replies from the endpoint.
	ErrTransport = errors.New("activation transport error")
	// ErrProtocol covers replies that arrived but could not be used.
	ErrProtocol = errors.New("activation protocol error")
)

// TokenBundle is the credential set returned by a successful activation.
type TokenBundle struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	CaptchaToken string          `json:"captcha_token"`
	DeviceID     string          `json:"device_id"`
	UserID       string          `json:"user_id"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// Apply returns a copy of p with the non-empty fields of t written over it.
func (t TokenBundle) Apply(p models.AccountPayload) models.AccountPayload {
	out := p.Clone()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.AccessToken, t.AccessToken)
	set(&out.RefreshToken, t.RefreshToken)
	set(&out.CaptchaToken, t.CaptchaToken)
	set(&out.DeviceID, t.DeviceID)
	set(&out.UserID, t.UserID)
	if len(t.Timestamp) > 0 && string(t.Timestamp) != "null" {
		out.Timestamp = append(json.RawMessage(nil), t.Timestamp...)
	}
	return out
}

// Injector submits one account to the activation endpoint.
type Injector interface {
	Inject(ctx context.Context, p models.AccountPayload, key string) (TokenBundle, error)
}

// ProxyPicker hands out proxies and takes back their outcome.
type ProxyPicker interface {
	SelectRandom(ctx context.Context) (models.Proxy, bool)
	RecordOutcome(ctx context.Context, id uint, success bool, responseTime float64) error
}

type InjectorOptions struct {
	BaseURL string
	Timeout time.Duration
	// RPS caps outbound calls per second; 0 means unlimited.
	RPS float64
	// Proxies, when set, routes every call through a pooled proxy.
	Proxies ProxyPicker
}

type HTTPInjector struct {
	endpoint string
	timeout  time.Duration
	limiter  *rate.Limiter
	proxies  ProxyPicker
	log      *zap.SugaredLogger
}

func NewHTTPInjector(opts InjectorOptions, lg *zap.SugaredLogger) *HTTPInjector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	inj := &HTTPInjector{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + "/infoInject",
		timeout:  opts.Timeout,
		proxies:  opts.Proxies,
		log:      lg,
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		inj.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return inj
}

type injectRequest struct {
	Info models.AccountPayload `json:"info"`
	Key  string                `json:"key"`
}

type injectResponse struct {
	Code int          `json:"code"`
	Msg  string       `json:"msg"`
	Data *TokenBundle `json:"data"`
}

func (h *HTTPInjector) Inject(ctx context.Context, p models.AccountPayload, key string) (TokenBundle, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return TokenBundle{}, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	var proxy models.Proxy
	var useProxy bool
	if h.proxies != nil {
		proxy, useProxy = h.proxies.SelectRandom(ctx)
	}
	client, err := proxypool.HTTPClient(proxy.ProxyURL, h.timeout)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	body, err := json.Marshal(injectRequest{Info: p, Key: key})
	if err != nil {
		return TokenBundle{}, fmt.Errorf("%w: encode request: %v", ErrProtocol, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return TokenBundle{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	metrics.ActivationDuration.Observe(elapsed.Seconds())
	if useProxy {
		h.recordProxy(ctx, proxy, err == nil, elapsed)
	}
	if err != nil {
		return TokenBundle{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TokenBundle{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenBundle{}, fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	}

	var out injectResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return TokenBundle{}, fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if out.Code != http.StatusOK {
		return TokenBundle{}, fmt.Errorf("%w: code %d: %s", ErrProtocol, out.Code, out.Msg)
	}
	if out.Data == nil {
		return TokenBundle{}, fmt.Errorf("%w: response has no data", ErrProtocol)
	}
	return *out.Data, nil
}

// recordProxy reports whether the proxy carried the call. Endpoint-level
// failures that came back through the proxy still count as proxy successes.
func (h *HTTPInjector) recordProxy(ctx context.Context, p models.Proxy, ok bool, elapsed time.Duration) {
	if err := h.proxies.RecordOutcome(context.WithoutCancel(ctx), p.ID, ok, elapsed.Seconds()); err != nil {
		h.log.Warnw("record proxy outcome failed", "proxy_id", p.ID, "err", err)
	}
}
