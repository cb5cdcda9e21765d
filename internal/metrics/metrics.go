// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"method", "route"},
	)

	ActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activations_total",
			Help: "Activation attempts by execution strategy and outcome",
		},
		[]string{"strategy", "status"}, // concurrent/sequential/offline, success/error/skipped
	)

	ActivationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activation_call_duration_seconds",
			Help:    "Latency of calls to the external activation endpoint",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProxyChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_checks_total",
			Help: "Proxy outcomes recorded in the pool",
		},
		[]string{"result"}, // success/failure
	)
)

// TrackActivation counts one per-account activation outcome.
func TrackActivation(strategy, status string) {
	ActivationsTotal.WithLabelValues(strategy, status).Inc()
}

func TrackProxyCheck(success bool) {
	if success {
		ProxyChecksTotal.WithLabelValues("success").Inc()
		return
	}
	ProxyChecksTotal.WithLabelValues("failure").Inc()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
