// Package classify assigns every outgoing request to exactly one
// resource class. Classification drives strategy selection, so the
// evaluation order is fixed: tile hosts, then the core manifest, then
// data requests, then foreign origins. Anything left is unhandled and
// bypasses the engine.
package classify

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

type Class string

const (
	MapTile          Class = "map_tile"
	CoreResource     Class = "core"
	DataRequest      Class = "data"
	ExternalResource Class = "external"
	Unhandled        Class = "unhandled"
)

// Raster tile CDNs the map layer is configured with.
var tilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://[abcd]\.basemaps\.cartocdn\.com/`),
	regexp.MustCompile(`^https?://[abc]\.tile\.openstreetmap\.org/`),
	regexp.MustCompile(`^https?://server\.arcgisonline\.com/ArcGIS/rest/services/.+/MapServer/tile/`),
}

// Path fragments that identify trip data modules.
var dataModules = []string{"itinerary", "budget", "packing", "expenses"}

// DefaultManifest lists the application shell files plus the cross-origin
// assets required for offline operation. The same list seeds the core
// namespace at install time.
func DefaultManifest() []string {
	return []string{
		"/",
		"/index.html",
		"/styles/main.css",
		"/scripts/app.js",
		"/scripts/itinerary.js",
		"/scripts/budget.js",
		"/scripts/packing.js",
		"/manifest.webmanifest",
		"/icons/icon-192.png",
		"/icons/icon-512.png",
		"https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
		"https://unpkg.com/leaflet@1.9.4/dist/leaflet.js",
	}
}

type Ruleset struct {
	origin   *url.URL
	manifest map[string]struct{}
}

func NewRuleset(appOrigin string, manifest []string) (*Ruleset, error) {
	o, err := url.Parse(appOrigin)
	if err != nil {
		return nil, err
	}
	m := make(map[string]struct{}, len(manifest))
	for _, e := range manifest {
		m[e] = struct{}{}
	}
	return &Ruleset{origin: o, manifest: m}, nil
}

// Classify maps a request to its resource class. Only GET requests are
// classified; every other method is Unhandled.
func (rs *Ruleset) Classify(method string, u *url.URL) Class {
	if method != http.MethodGet {
		return Unhandled
	}

	if u.IsAbs() {
		full := u.String()
		for _, re := range tilePatterns {
			if re.MatchString(full) {
				return MapTile
			}
		}
	}

	if rs.inManifest(u) {
		return CoreResource
	}

	if isDataRequest(u) {
		return DataRequest
	}

	if !rs.sameOrigin(u) {
		return ExternalResource
	}

	return Unhandled
}

func (rs *Ruleset) inManifest(u *url.URL) bool {
	if rs.sameOrigin(u) {
		_, ok := rs.manifest[u.Path]
		return ok
	}
	// cross-origin entries are matched by exact URL, query excluded
	exact := u.Scheme + "://" + u.Host + u.Path
	_, ok := rs.manifest[exact]
	return ok
}

// sameOrigin treats relative URLs as belonging to the app origin.
func (rs *Ruleset) sameOrigin(u *url.URL) bool {
	if !u.IsAbs() || u.Host == "" {
		return true
	}
	return u.Scheme == rs.origin.Scheme && u.Host == rs.origin.Host
}

func isDataRequest(u *url.URL) bool {
	if strings.HasPrefix(u.Path, "/api/") {
		return true
	}
	for _, m := range dataModules {
		if strings.Contains(u.Path, m) {
			return true
		}
	}
	return u.Query().Has("data")
}
