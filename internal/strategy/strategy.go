// Package strategy executes the per-class caching algorithm for every
// intercepted request. Each path is a fixed two-step sequence that
// terminates in a synthesized fallback; errors never reach the caller.
package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
	"github.com/voyagekit/offline-engine/internal/classify"
	"github.com/voyagekit/offline-engine/internal/core/model"
	"github.com/voyagekit/offline-engine/internal/core/observability"
	"github.com/voyagekit/offline-engine/internal/fallback"
)

// maxBodyBytes caps a single cached response body.
const maxBodyBytes = 8 << 20

type Dispatcher struct {
	store    cache.Store
	client   *http.Client
	gen      *fallback.Generator
	log      *slog.Logger
	upstream *url.URL
}

// New builds a dispatcher. Origin-relative targets are fetched against
// upstream; cache keys always use the URL as requested.
func New(store cache.Store, client *http.Client, gen *fallback.Generator, log *slog.Logger, upstream *url.URL) *Dispatcher {
	return &Dispatcher{store: store, client: client, gen: gen, log: log, upstream: upstream}
}

// Dispatch runs the caching strategy for the classified request and always
// returns a response. Received -> step 1 -> step 2 -> fallback.
func (d *Dispatcher) Dispatch(ctx context.Context, class classify.Class, target *url.URL) *model.Response {
	var resp *model.Response
	var outcome string

	switch class {
	case classify.CoreResource:
		resp, outcome = d.cacheFirst(ctx, cache.Core, target)
	case classify.MapTile:
		resp, outcome = d.tile(ctx, target)
	case classify.DataRequest:
		resp, outcome = d.networkFirst(ctx, target)
	case classify.ExternalResource:
		resp, outcome = d.staleWhileRevalidate(ctx, target)
	default:
		// Unhandled never reaches the dispatcher; answer defensively anyway.
		resp, outcome = fallback.Unavailable(), "fallback"
	}

	observability.ObserveIntercept(string(class), outcome)
	return resp
}

// cacheFirst serves core resources: cache, then network with
// write-through, then a kind-appropriate stub.
func (d *Dispatcher) cacheFirst(ctx context.Context, ns cache.Namespace, target *url.URL) (*model.Response, string) {
	key := keys.ForURL(target)
	if e, ok := d.lookup(ctx, ns, key); ok {
		return fromEntry(e), "cache"
	}
	if e, err := d.fetchAndStore(ctx, ns, key, target); err == nil {
		return fromEntry(e), "network"
	} else {
		d.log.WarnContext(ctx, "core fetch failed, serving fallback",
			"url", keys.Canonical(target), "err", err)
	}
	return d.pageFallback(ctx, target), "fallback"
}

func (d *Dispatcher) tile(ctx context.Context, target *url.URL) (*model.Response, string) {
	key := keys.ForURL(target)
	if e, ok := d.lookup(ctx, cache.Maps, key); ok {
		return fromEntry(e), "cache"
	}
	if e, err := d.fetchAndStore(ctx, cache.Maps, key, target); err == nil {
		return fromEntry(e), "network"
	} else {
		d.log.WarnContext(ctx, "tile fetch failed, serving placeholder",
			"url", keys.Canonical(target), "err", err)
	}
	return d.gen.Generate(fallback.Tile), "fallback"
}

// networkFirst serves trip data: live data wins, cache covers outages,
// the offline marker covers both failing.
func (d *Dispatcher) networkFirst(ctx context.Context, target *url.URL) (*model.Response, string) {
	key := keys.ForURL(target)
	if e, err := d.fetchAndStore(ctx, cache.Data, key, target); err == nil {
		return fromEntry(e), "network"
	} else {
		d.log.DebugContext(ctx, "data fetch failed, trying cache",
			"url", keys.Canonical(target), "err", err)
	}
	if e, ok := d.lookup(ctx, cache.Data, key); ok {
		return fromEntry(e), "cache"
	}
	return d.gen.Generate(fallback.JSON), "fallback"
}

// staleWhileRevalidate serves external resources: a cache hit returns
// immediately and the entry is refreshed in the background; the refresh
// is detached and never delays the response.
func (d *Dispatcher) staleWhileRevalidate(ctx context.Context, target *url.URL) (*model.Response, string) {
	key := keys.ForURL(target)
	if e, ok := d.lookup(ctx, cache.Offline, key); ok {
		go d.revalidate(context.WithoutCancel(ctx), key, target)
		return fromEntry(e), "cache"
	}
	if e, err := d.fetchAndStore(ctx, cache.Offline, key, target); err == nil {
		return fromEntry(e), "network"
	} else {
		d.log.WarnContext(ctx, "external fetch failed",
			"url", keys.Canonical(target), "err", err)
	}
	return fallback.Unavailable(), "fallback"
}

func (d *Dispatcher) revalidate(ctx context.Context, key string, target *url.URL) {
	if _, err := d.fetchAndStore(ctx, cache.Offline, key, target); err != nil {
		d.log.DebugContext(ctx, "background revalidation failed",
			"url", keys.Canonical(target), "err", err)
	}
}

// lookup treats every cache error as a miss.
func (d *Dispatcher) lookup(ctx context.Context, ns cache.Namespace, key string) (*cache.Entry, bool) {
	e, ok, err := d.store.Get(ctx, ns, key)
	if err != nil {
		d.log.WarnContext(ctx, "cache read failed, treating as miss",
			"namespace", string(ns), "err", err)
		return nil, false
	}
	return e, ok
}

// fetchAndStore performs the network step and writes through on success.
// A failed write-through is logged and does not fail the fetch.
func (d *Dispatcher) fetchAndStore(ctx context.Context, ns cache.Namespace, key string, target *url.URL) (*cache.Entry, error) {
	fetchURL := target
	if !target.IsAbs() && d.upstream != nil {
		fetchURL = d.upstream.ResolveReference(target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", keys.Canonical(target), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.log.WarnContext(ctx, "close response body", "err", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", keys.Canonical(target), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keys.Canonical(target), err)
	}
	// an over-limit body must fail the fetch, never be cached truncated
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", keys.Canonical(target), maxBodyBytes)
	}

	e := &cache.Entry{
		Status:   resp.StatusCode,
		Header:   storedHeaders(resp.Header),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	if err := d.store.Put(ctx, ns, key, e); err != nil {
		d.log.WarnContext(ctx, "cache write-through failed",
			"namespace", string(ns), "err", err)
	}
	return e, nil
}

// pageFallback serves the cached root document when the shell was ever
// cached, otherwise the minimal offline notice for pages (or the stub
// matching the asset's suffix).
func (d *Dispatcher) pageFallback(ctx context.Context, target *url.URL) *model.Response {
	kind := fallback.KindForPath(target.Path)
	if kind == fallback.Page {
		root := &url.URL{Path: "/"}
		if e, ok := d.lookup(ctx, cache.Core, keys.ForURL(root)); ok {
			return fromEntry(e)
		}
	}
	return d.gen.Generate(kind)
}

// storedHeaders keeps the subset of headers worth replaying offline.
func storedHeaders(h http.Header) http.Header {
	out := http.Header{}
	for _, k := range []string{"Content-Type", "Content-Language", "Cache-Control", "ETag", "Last-Modified"} {
		if v := h.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}

func fromEntry(e *cache.Entry) *model.Response {
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := http.Header{}
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return &model.Response{Status: status, Header: h, Body: e.Body}
}
