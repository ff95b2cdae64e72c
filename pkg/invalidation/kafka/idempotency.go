package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pathVersions remembers the highest event version applied per cache key,
// so a replayed or reordered event never deletes an entry a newer event
// already refreshed. Bounded: old keys age out of the LRU and a replay for
// them would apply again, which is safe (deletion is idempotent).
type pathVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newPathVersions(size int) *pathVersions {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &pathVersions{seen: c}
}

// apply reports whether v supersedes the last version recorded for key,
// recording it when it does.
func (p *pathVersions) apply(key string, v uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.seen.Get(key); ok && v <= last {
		return false
	}
	p.seen.Add(key, v)
	return true
}
