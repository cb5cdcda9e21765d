package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

func ListProxies(pool ProxyPool, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxies, err := pool.List(r.Context())
		if err != nil {
			lg.Errorw("list proxies", "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "proxies": proxies})
	}
}

type proxyURLReq struct {
	ProxyURL string `json:"proxy_url" validate:"required"`
}

func AddProxy(pool ProxyPool, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proxyURLReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "proxy_url required")
			return
		}
		p, err := pool.Add(r.Context(), strings.TrimSpace(req.ProxyURL))
		if err != nil {
			lg.Warnw("add proxy", "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "message": "proxy added", "proxy": p})
	}
}

type removeProxyReq struct {
	ProxyID uint `json:"proxy_id" validate:"required"`
}

func RemoveProxy(pool ProxyPool, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req removeProxyReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "proxy_id required")
			return
		}
		if err := pool.Remove(r.Context(), req.ProxyID); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{"status": "success", "message": "proxy removed"})
	}
}

// TestProxy probes one URL and, when it is in the pool, records the outcome.
func TestProxy(pool ProxyPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proxyURLReq
		if err := decode(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "proxy_url required")
			return
		}
		res := pool.TestAndRecord(r.Context(), strings.TrimSpace(req.ProxyURL))
		status, msg := "success", "proxy reachable"
		if !res.Success {
			status, msg = "error", "proxy test failed"
		}
		respondJSON(w, map[string]any{"status": status, "message": msg, "result": res})
	}
}

func TestAllProxies(pool ProxyPool, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := pool.BatchTest(r.Context())
		if err != nil {
			lg.Errorw("batch proxy test", "err", err)
			respondErr(w, err)
			return
		}
		respondJSON(w, map[string]any{
			"status":  "success",
			"message": fmt.Sprintf("%d/%d proxies passed", report.Success, report.Total),
			"results": report,
		})
	}
}

// RandomProxy hands out one of the fastest active proxies.
func RandomProxy(pool ProxyPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := pool.SelectRandom(r.Context())
		if !ok {
			respondError(w, http.StatusNotFound, "no proxy available")
			return
		}
		respondJSON(w, map[string]any{"status": "success", "proxy_url": p.ProxyURL})
	}
}
