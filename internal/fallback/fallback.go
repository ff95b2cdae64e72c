// Package fallback synthesizes well-formed placeholder responses for
// requests that both the cache and the network failed to serve.
package fallback

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/voyagekit/offline-engine/internal/core/model"
)

type Kind string

const (
	Tile       Kind = "tile"
	Page       Kind = "page"
	Stylesheet Kind = "stylesheet"
	Script     Kind = "script"
	JSON       Kind = "json"
)

// KindForPath selects a fallback kind from the failed request's path
// suffix. Tile and data requests carry their own dedicated kinds and do
// not go through this mapping.
func KindForPath(p string) Kind {
	switch strings.ToLower(path.Ext(p)) {
	case ".css":
		return Stylesheet
	case ".js":
		return Script
	default:
		return Page
	}
}

const tileSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256">` +
	`<rect width="256" height="256" fill="#e8e8e8"/>` +
	`<text x="128" y="128" text-anchor="middle" dominant-baseline="middle" ` +
	`font-family="sans-serif" font-size="20" fill="#9a9a9a">offline</text></svg>`

const offlinePage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available offline yet. Reconnect and try again.</p>
</body>
</html>
`

type Generator struct {
	now func() time.Time
}

func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock is used by tests that need a deterministic timestamp.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate is pure: it produces a placeholder response and touches nothing.
func (g *Generator) Generate(kind Kind) *model.Response {
	switch kind {
	case Tile:
		return respond("image/svg+xml", []byte(tileSVG))
	case Stylesheet:
		return respond("text/css; charset=utf-8", []byte("/* offline */\n"))
	case Script:
		return respond("application/javascript; charset=utf-8", []byte("// offline\n"))
	case JSON:
		body, _ := json.Marshal(map[string]any{
			"offline":   true,
			"message":   "You are offline. Cached trip data may be stale.",
			"timestamp": g.now().UTC().Format(time.RFC3339),
		})
		return respond("application/json; charset=utf-8", body)
	default:
		return respond("text/html; charset=utf-8", []byte(offlinePage))
	}
}

// Unavailable is the external-resource terminal fallback: an empty 503.
func Unavailable() *model.Response {
	return &model.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{},
	}
}

func respond(contentType string, body []byte) *model.Response {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	return &model.Response{
		Status: http.StatusOK,
		Header: h,
		Body:   body,
	}
}
