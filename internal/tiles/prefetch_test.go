package tiles

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
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

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPrefetch_DownloadsEveryTileWithBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	store := newMemStore()
	p := NewPrefetcher(store, srv.Client(), discard(), srv.URL+"/%d/%d/%d.png", 10)

	stats, err := p.Prefetch(context.Background(), assamBounds, 6, 7)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}

	want := len(Enumerate(assamBounds, 6, 7))
	if stats.Total != want || stats.Fetched != want {
		t.Fatalf("stats=%+v want total=fetched=%d", stats, want)
	}
	if stats.Failed != 0 || stats.Skipped != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if store.len() != want {
		t.Fatalf("stored %d tiles want %d", store.len(), want)
	}
	if peak.Load() > 10 {
		t.Fatalf("peak concurrency %d exceeds 10", peak.Load())
	}
}

func TestPrefetch_FailedTilesAreSkippedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/46/26") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	store := newMemStore()
	p := NewPrefetcher(store, srv.Client(), discard(), srv.URL+"/%d/%d/%d.png", 10)

	stats, err := p.Prefetch(context.Background(), assamBounds, 6, 6)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if stats.Total != 6 || stats.Failed != 1 || stats.Fetched != 5 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestPrefetch_StoredUnderTileURLKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("imagery"))
	}))
	defer srv.Close()

	store := newMemStore()
	p := NewPrefetcher(store, srv.Client(), discard(), srv.URL+"/%d/%d/%d.png", 2)
	if _, err := p.Prefetch(context.Background(), assamBounds, 6, 6); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}

	u, _ := url.Parse(URL(srv.URL+"/%d/%d/%d.png", Coord{Z: 6, X: 46, Y: 26}))
	e, ok, _ := store.Get(context.Background(), cache.Maps, keys.ForURL(u))
	if !ok {
		t.Fatalf("tile not found under its URL key")
	}
	if string(e.Body) != "imagery" {
		t.Fatalf("body=%q", e.Body)
	}
}

func TestPrefetch_OversizedTileFailsInsteadOfTruncating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/46/26") {
			_, _ = w.Write(make([]byte, maxTileBytes+1))
			return
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	store := newMemStore()
	p := NewPrefetcher(store, srv.Client(), discard(), srv.URL+"/%d/%d/%d.png", 10)

	stats, err := p.Prefetch(context.Background(), assamBounds, 6, 6)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if stats.Failed != 1 || stats.Fetched != 5 {
		t.Fatalf("stats=%+v want 1 failed", stats)
	}
	if store.len() != 5 {
		t.Fatalf("stored=%d, truncated tile must not be cached", store.len())
	}
}

func TestPrefetch_RejectsBadInput(t *testing.T) {
	p := NewPrefetcher(newMemStore(), http.DefaultClient, discard(), "/%d/%d/%d", 2)
	if _, err := p.Prefetch(context.Background(), Bounds{North: 1, South: 2, East: 3, West: 0}, 1, 2); err == nil {
		t.Fatalf("inverted bounds accepted")
	}
	if _, err := p.Prefetch(context.Background(), assamBounds, 5, 3); err == nil {
		t.Fatalf("inverted zoom range accepted")
	}
}
