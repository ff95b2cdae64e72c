// Package cache defines the namespaced response store the engine runs on.
package cache

import "context"

// Namespace is one of the four well-known cache regions. Each maps to a
// versioned storage name; only the current version is ever read.
type Namespace string

const (
	Core    Namespace = "core"
	Offline Namespace = "offline"
	Maps    Namespace = "maps"
	Data    Namespace = "data"
)

func Namespaces() []Namespace {
	return []Namespace{Core, Offline, Maps, Data}
}

type Store interface {
	Get(ctx context.Context, ns Namespace, key string) (*Entry, bool, error)
	Put(ctx context.Context, ns Namespace, key string, e *Entry) error
	Delete(ctx context.Context, ns Namespace, key string) error

	// ListNamespaces returns the versioned storage names present in the
	// backing store, current or stale.
	ListNamespaces(ctx context.Context) ([]string, error)
	// DeleteNamespace removes a versioned namespace and all its entries.
	DeleteNamespace(ctx context.Context, name string) error
}
