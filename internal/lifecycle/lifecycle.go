// Package lifecycle drives the install/activate cycle of the versioned
// cache namespaces.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
)

// VersionedStore is the cache store plus the version bookkeeping the
// lifecycle needs to tell current namespaces from stale ones.
type VersionedStore interface {
	cache.Store
	CurrentNames() []string
}

type Manager struct {
	store    VersionedStore
	client   *http.Client
	upstream *url.URL
	manifest []string
	log      *slog.Logger
	ready    atomic.Bool
}

func New(store VersionedStore, client *http.Client, upstreamURL string, manifest []string, log *slog.Logger) (*Manager, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	return &Manager{
		store:    store,
		client:   client,
		upstream: u,
		manifest: manifest,
		log:      log,
	}, nil
}

// Ready reports whether activation has completed; /readyz gates on it.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Install pre-populates the core namespace from the manifest and seeds
// the data namespace with the offline-status entry. Per-resource fetch
// failures are logged and skipped: partial population is allowed and the
// strategy layer falls back to network per resource later.
func (m *Manager) Install(ctx context.Context) error {
	ok, failed := 0, 0
	for _, res := range m.manifest {
		if err := m.cacheOne(ctx, res); err != nil {
			failed++
			m.log.WarnContext(ctx, "core resource not pre-cached", "resource", res, "err", err)
			continue
		}
		ok++
	}

	if err := m.seedOfflineStatus(ctx); err != nil {
		m.log.WarnContext(ctx, "offline-status seed failed", "err", err)
	}

	m.log.InfoContext(ctx, "install finished", "cached", ok, "failed", failed)
	return ctx.Err()
}

// Activate deletes every namespace whose versioned name is not among the
// four current ones, then marks the engine ready to serve traffic.
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.store.ListNamespaces(ctx)
	if err != nil {
		return fmt.Errorf("enumerate namespaces: %w", err)
	}

	current := make(map[string]struct{}, 4)
	for _, n := range m.store.CurrentNames() {
		current[n] = struct{}{}
	}

	deleted := 0
	for _, name := range names {
		if _, ok := current[name]; ok {
			continue
		}
		if err := m.store.DeleteNamespace(ctx, name); err != nil {
			m.log.WarnContext(ctx, "stale namespace not deleted", "namespace", name, "err", err)
			continue
		}
		deleted++
		m.log.InfoContext(ctx, "stale namespace deleted", "namespace", name)
	}

	m.ready.Store(true)
	m.log.InfoContext(ctx, "activation complete", "stale_deleted", deleted)
	return nil
}

// cacheOne fetches a single manifest resource and stores it under the
// key the interception path will later look up: app-relative for shell
// files, exact URL for cross-origin assets.
func (m *Manager) cacheOne(ctx context.Context, res string) error {
	keyURL, err := url.Parse(res)
	if err != nil {
		return fmt.Errorf("parse manifest entry: %w", err)
	}
	fetchURL := keyURL
	if !keyURL.IsAbs() {
		fetchURL = m.upstream.ResolveReference(keyURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	e := &cache.Entry{
		Status:   resp.StatusCode,
		Header:   http.Header{"Content-Type": {resp.Header.Get("Content-Type")}},
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	return m.store.Put(ctx, cache.Core, keys.ForURL(keyURL), e)
}

func (m *Manager) seedOfflineStatus(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"offline": false,
		"status":  "ok",
		"seeded":  true,
	})
	if err != nil {
		return err
	}
	statusURL := &url.URL{Path: "/api/status"}
	e := &cache.Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	return m.store.Put(ctx, cache.Data, keys.ForURL(statusURL), e)
}
