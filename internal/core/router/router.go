// Package router is the request interception boundary: every request is
// classified and either dispatched through a caching strategy or passed
// through to the upstream untouched.
package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voyagekit/offline-engine/internal/classify"
	"github.com/voyagekit/offline-engine/internal/core/observability"
	"github.com/voyagekit/offline-engine/internal/logger"
	"github.com/voyagekit/offline-engine/internal/strategy"
	"github.com/voyagekit/offline-engine/internal/tiles"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Intercept classifies the request and serves it through the matching
// strategy. Non-GET and unhandled requests fall through to passthrough.
func Intercept(log *slog.Logger, rs *classify.Ruleset, d *strategy.Dispatcher, passthrough http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		target := r.URL
		class := rs.Classify(r.Method, target)

		if class == classify.Unhandled {
			observability.ObserveIntercept(string(class), "bypass")
			passthrough.ServeHTTP(sw, r)
			observability.ObserveHTTP(r.Method, "passthrough", sw.code, time.Since(start).Seconds())
			return
		}

		ctx := logger.WithClass(r.Context(), string(class))
		resp := d.Dispatch(ctx, class, target)
		resp.Write(sw)
		observability.ObserveHTTP(r.Method, "intercept", sw.code, time.Since(start).Seconds())
	}
}

type prefetchRequest struct {
	tiles.Bounds
	MinZoom int `json:"min_zoom"`
	MaxZoom int `json:"max_zoom"`
}

// Prefetch handles the explicit "download offline maps" trigger. It runs
// the whole prefetch before answering so the response carries the final
// tally.
func Prefetch(log *slog.Logger, p *tiles.Prefetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req prefetchRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "invalid prefetch request: "+err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/offline/prefetch", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		stats, err := p.Prefetch(r.Context(), req.Bounds, req.MinZoom, req.MaxZoom)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/offline/prefetch", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
		observability.ObserveHTTP(r.Method, "/offline/prefetch", http.StatusOK, time.Since(start).Seconds())
	}
}

// Passthrough forwards a request to the upstream (or its own absolute
// target) unmodified and streams the response back.
func Passthrough(log *slog.Logger, client *http.Client, upstream *url.URL) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL
		if !target.IsAbs() {
			target = upstream.ResolveReference(target)
		}

		out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
		if err != nil {
			http.Error(w, "bad passthrough target", http.StatusBadGateway)
			return
		}
		copyHeaders(out.Header, r.Header)

		resp, err := client.Do(out)
		if err != nil {
			log.WarnContext(r.Context(), "passthrough failed", "url", target.String(), "err", err)
			http.Error(w, "upstream unreachable", http.StatusBadGateway)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.DebugContext(r.Context(), "passthrough copy interrupted", "err", err)
		}
	})
}

// hop-by-hop headers are not forwarded
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
