package kafka

import (
	"errors"
	"strings"
	"time"
)

// WireEvent announces that server-side trip data changed and the cached
// copies under the named paths are stale. Version is a monotonically
// increasing per-path counter used for replay dedupe.
type WireEvent struct {
	Paths     []string  `json:"paths"`
	Namespace string    `json:"namespace,omitempty"`
	Version   uint64    `json:"version"`
	TS        time.Time `json:"ts"`
	Op        string    `json:"op,omitempty"`
}

func (e WireEvent) Validate() error {
	if len(e.Paths) == 0 {
		return errors.New("at least one path is required")
	}
	for _, p := range e.Paths {
		if strings.TrimSpace(p) == "" {
			return errors.New("empty path")
		}
	}
	switch e.Op {
	case "", "update", "delete", "invalidate":
	default:
		return errors.New("op must be update|delete|invalidate")
	}
	return nil
}
