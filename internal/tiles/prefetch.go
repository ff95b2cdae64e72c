package tiles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
	"github.com/voyagekit/offline-engine/internal/core/observability"
)

const maxTileBytes = 1 << 20

type Stats struct {
	Total   int `json:"total"`
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Prefetcher struct {
	store       cache.Store
	client      *http.Client
	log         *slog.Logger
	urlTemplate string
	workers     int
}

func NewPrefetcher(store cache.Store, client *http.Client, log *slog.Logger, urlTemplate string, workers int) *Prefetcher {
	if workers <= 0 {
		workers = 10
	}
	return &Prefetcher{
		store:       store,
		client:      client,
		log:         log,
		urlTemplate: urlTemplate,
		workers:     workers,
	}
}

// Prefetch downloads every tile covering the bounds across the zoom range
// into the maps namespace. A fixed pool of workers drains the task queue,
// so at most `workers` fetches are outstanding at any instant. Per-tile
// failures are logged and skipped; Prefetch returns only after every task
// has settled. Cancelling the context stops the queue between tasks.
func (p *Prefetcher) Prefetch(ctx context.Context, b Bounds, minZoom, maxZoom int) (Stats, error) {
	if err := b.Validate(); err != nil {
		return Stats{}, fmt.Errorf("prefetch bounds: %w", err)
	}
	if minZoom < 0 || maxZoom < minZoom {
		return Stats{}, fmt.Errorf("invalid zoom range [%d,%d]", minZoom, maxZoom)
	}

	coords := Enumerate(b, minZoom, maxZoom)
	stats := Stats{Total: len(coords)}
	if len(coords) == 0 {
		return stats, nil
	}

	start := time.Now()
	jobs := make(chan Coord)
	results := make(chan error, len(coords))

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for c := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				err := p.fetchTile(ctx, c)
				observability.IncPrefetchTile(err)
				if err != nil {
					p.log.WarnContext(ctx, "tile prefetch failed, skipping",
						"z", c.Z, "x", c.X, "y", c.Y, "err", err)
				}
				results <- err
			}
		}()
	}

	queued := 0
feed:
	for _, c := range coords {
		select {
		case jobs <- c:
			queued++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			stats.Failed++
		} else {
			stats.Fetched++
		}
	}
	stats.Skipped = stats.Total - stats.Fetched - stats.Failed

	p.log.InfoContext(ctx, "tile prefetch settled",
		"total", stats.Total, "fetched", stats.Fetched,
		"failed", stats.Failed, "skipped", stats.Skipped,
		"queued", queued,
		"dur", time.Since(start).String())
	return stats, nil
}

func (p *Prefetcher) fetchTile(ctx context.Context, c Coord) error {
	raw := URL(p.urlTemplate, c)
	target, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("tile url %q: %w", raw, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch tile %d/%d/%d: %w", c.Z, c.X, c.Y, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch tile %d/%d/%d: status %d", c.Z, c.X, c.Y, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return fmt.Errorf("read tile %d/%d/%d: %w", c.Z, c.X, c.Y, err)
	}
	if len(body) > maxTileBytes {
		return fmt.Errorf("tile %d/%d/%d exceeds %d bytes", c.Z, c.X, c.Y, maxTileBytes)
	}

	e := &cache.Entry{
		Status:   resp.StatusCode,
		Header:   http.Header{"Content-Type": {resp.Header.Get("Content-Type")}},
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	if err := p.store.Put(ctx, cache.Maps, keys.ForURL(target), e); err != nil {
		return fmt.Errorf("store tile %d/%d/%d: %w", c.Z, c.X, c.Y, err)
	}
	return nil
}
