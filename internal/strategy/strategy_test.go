package strategy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
	"github.com/voyagekit/offline-engine/internal/classify"
	"github.com/voyagekit/offline-engine/internal/fallback"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*cache.Entry)}
}

func (m *memStore) Get(_ context.Context, ns cache.Namespace, key string) (*cache.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(ns)+"|"+key]
	return e, ok, nil
}

func (m *memStore) Put(_ context.Context, ns cache.Namespace, key string, e *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(ns)+"|"+key] = e
	return nil
}

func (m *memStore) Delete(_ context.Context, ns cache.Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(ns)+"|"+key)
	return nil
}

func (m *memStore) ListNamespaces(context.Context) ([]string, error) { return nil, nil }
func (m *memStore) DeleteNamespace(context.Context, string) error    { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDispatcher(t *testing.T, store cache.Store, upstream string) *Dispatcher {
	t.Helper()
	u, err := url.Parse(upstream)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	return New(store, &http.Client{Timeout: time.Second}, fallback.New(), discard(), u)
}

func relURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func put(t *testing.T, store cache.Store, ns cache.Namespace, raw, body, contentType string) {
	t.Helper()
	e := &cache.Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": {contentType}},
		Body:     []byte(body),
		StoredAt: time.Now().UTC(),
	}
	if err := store.Put(context.Background(), ns, keys.ForURL(relURL(t, raw)), e); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestCacheFirst_ServesCachedBytesWithoutNetwork(t *testing.T) {
	store := newMemStore()
	put(t, store, cache.Core, "/index.html", "<html>shell</html>", "text/html")

	// upstream unreachable: a cache hit must never touch it
	d := newDispatcher(t, store, "http://127.0.0.1:1")
	resp := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/index.html"))

	if resp.Status != 200 || string(resp.Body) != "<html>shell</html>" {
		t.Fatalf("status=%d body=%q", resp.Status, resp.Body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Fatalf("content type=%q", ct)
	}
}

func TestCacheFirst_MissFetchesAndWritesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	}))

	store := newMemStore()
	d := newDispatcher(t, store, srv.URL)

	resp := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/styles/main.css"))
	if string(resp.Body) != "body{}" {
		t.Fatalf("body=%q", resp.Body)
	}

	// the write-through must survive the network going away
	srv.Close()
	resp = d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/styles/main.css"))
	if string(resp.Body) != "body{}" {
		t.Fatalf("offline replay body=%q", resp.Body)
	}
}

func TestCacheFirst_DoubleMissFallsBackByKind(t *testing.T) {
	d := newDispatcher(t, newMemStore(), "http://127.0.0.1:1")

	css := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/styles/main.css"))
	if got := css.Header.Get("Content-Type"); got != "text/css; charset=utf-8" {
		t.Fatalf("css fallback content type=%q", got)
	}

	page := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/trips/next"))
	if got := page.Header.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("page fallback content type=%q", got)
	}
}

func TestCacheFirst_PageFallbackPrefersCachedShell(t *testing.T) {
	store := newMemStore()
	put(t, store, cache.Core, "/", "<html>shell</html>", "text/html")

	d := newDispatcher(t, store, "http://127.0.0.1:1")
	resp := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/index.html"))
	if string(resp.Body) != "<html>shell</html>" {
		t.Fatalf("body=%q", resp.Body)
	}
}

func TestNetworkFirst_LiveDataWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"day":1}`))
	}))
	defer srv.Close()

	store := newMemStore()
	put(t, store, cache.Data, "/api/itinerary", `{"day":0}`, "application/json")

	d := newDispatcher(t, store, srv.URL)
	resp := d.Dispatch(context.Background(), classify.DataRequest, relURL(t, "/api/itinerary"))
	if string(resp.Body) != `{"day":1}` {
		t.Fatalf("stale data served while online: %q", resp.Body)
	}
}

func TestNetworkFirst_OutageServesCacheThenMarker(t *testing.T) {
	store := newMemStore()
	put(t, store, cache.Data, "/api/itinerary", `{"day":3}`, "application/json")

	d := newDispatcher(t, store, "http://127.0.0.1:1")
	resp := d.Dispatch(context.Background(), classify.DataRequest, relURL(t, "/api/itinerary"))
	if string(resp.Body) != `{"day":3}` {
		t.Fatalf("cached data not served during outage: %q", resp.Body)
	}

	resp = d.Dispatch(context.Background(), classify.DataRequest, relURL(t, "/api/packing"))
	var marker struct {
		Offline bool `json:"offline"`
	}
	if err := json.Unmarshal(resp.Body, &marker); err != nil || !marker.Offline {
		t.Fatalf("offline marker missing: %q (%v)", resp.Body, err)
	}
}

func TestStaleWhileRevalidate_ServesStaleAndRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("v2-font"))
	}))
	defer srv.Close()

	store := newMemStore()
	target := relURL(t, srv.URL+"/font.woff2")
	put(t, store, cache.Offline, srv.URL+"/font.woff2", "v1-font", "font/woff2")

	d := newDispatcher(t, store, srv.URL)
	resp := d.Dispatch(context.Background(), classify.ExternalResource, target)
	if string(resp.Body) != "v1-font" {
		t.Fatalf("stale copy not served: %q", resp.Body)
	}

	// the detached revalidation lands shortly after the response
	key := keys.ForURL(target)
	deadline := time.Now().Add(2 * time.Second)
	for {
		e, ok, _ := store.Get(context.Background(), cache.Offline, key)
		if ok && string(e.Body) == "v2-font" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background revalidation never updated the entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaleWhileRevalidate_MissFetchesOrGoesUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fresh"))
	}))
	store := newMemStore()
	d := newDispatcher(t, store, srv.URL)

	resp := d.Dispatch(context.Background(), classify.ExternalResource, relURL(t, srv.URL+"/lib.js"))
	if string(resp.Body) != "fresh" {
		t.Fatalf("body=%q", resp.Body)
	}

	srv.Close()
	resp = d.Dispatch(context.Background(), classify.ExternalResource, relURL(t, "http://127.0.0.1:1/other.js"))
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", resp.Status)
	}
}

func TestTile_PlaceholderWhenEverythingFails(t *testing.T) {
	d := newDispatcher(t, newMemStore(), "http://127.0.0.1:1")
	resp := d.Dispatch(context.Background(), classify.MapTile,
		relURL(t, "http://127.0.0.1:1/rastertiles/6/46/26.png"))
	if ct := resp.Header.Get("Content-Type"); ct != "image/svg+xml" {
		t.Fatalf("tile placeholder content type=%q", ct)
	}
}

func TestOversizedBodyFailsFetchInsteadOfTruncating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(make([]byte, maxBodyBytes+1))
	}))
	defer srv.Close()

	store := newMemStore()
	d := newDispatcher(t, store, srv.URL)
	resp := d.Dispatch(context.Background(), classify.CoreResource, relURL(t, "/trips/huge"))

	// a body past the cap must degrade into the offline notice, never a
	// truncated 200
	if len(resp.Body) > maxBodyBytes {
		t.Fatalf("oversized body served: %d bytes", len(resp.Body))
	}
	if !strings.Contains(string(resp.Body), "offline") {
		t.Fatalf("expected offline notice, got %d bytes of %q", len(resp.Body), resp.Header.Get("Content-Type"))
	}
	if _, ok, _ := store.Get(context.Background(), cache.Core, keys.ForURL(relURL(t, "/trips/huge"))); ok {
		t.Fatalf("truncated body was cached")
	}
}

func TestNonSuccessUpstreamIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemStore()
	d := newDispatcher(t, store, srv.URL)
	d.Dispatch(context.Background(), classify.DataRequest, relURL(t, "/api/itinerary"))

	if _, ok, _ := store.Get(context.Background(), cache.Data, keys.ForURL(relURL(t, "/api/itinerary"))); ok {
		t.Fatalf("404 response was cached")
	}
}
