// Package redisstore implements the namespaced cache store on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/core/observability"
)

// registryKey is the Redis set holding every versioned namespace name
// that has ever been written; activation uses it to find stale ones.
const registryKey = "cache:namespaces"

type Option func(*Store)

func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func WithPoolSize(n int) Option {
	return func(s *Store) { s.poolSize = n }
}

type Store struct {
	rdb      *redis.Client
	version  string
	timeout  time.Duration
	poolSize int
}

func New(ctx context.Context, addr, version string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if version == "" {
		return nil, errors.New("cache version is required")
	}

	s := &Store{
		version:  version,
		timeout:  250 * time.Millisecond,
		poolSize: 32,
	}
	for _, f := range opts {
		f(s)
	}

	s.rdb = redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     s.poolSize,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = s.rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

// FullName is the versioned storage name of a namespace,
// e.g. "maps-cache-v2".
func (s *Store) FullName(ns cache.Namespace) string {
	return fmt.Sprintf("%s-cache-%s", ns, s.version)
}

// CurrentNames returns the four storage names for the running version.
func (s *Store) CurrentNames() []string {
	out := make([]string, 0, 4)
	for _, ns := range cache.Namespaces() {
		out = append(out, s.FullName(ns))
	}
	return out
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) entryKey(ns cache.Namespace, key string) string {
	return s.FullName(ns) + ":" + key
}

func (s *Store) Get(ctx context.Context, ns cache.Namespace, key string) (*cache.Entry, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	b, err := s.rdb.Get(ctx, s.entryKey(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		observability.IncCacheMiss()
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}

	e, err := cache.DecodeEntry(b)
	if err != nil {
		observability.IncCacheMiss()
		return nil, false, fmt.Errorf("namespace %s key %q: %w", ns, key, err)
	}
	observability.IncCacheHit()
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, ns cache.Namespace, key string, e *cache.Entry) error {
	b, err := e.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	full := s.FullName(ns)
	start := time.Now()
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, full+":"+key, b, 0)
		p.SAdd(ctx, registryKey, full)
		return nil
	})
	observability.ObserveCacheOp("put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := s.rdb.Del(ctx, s.entryKey(ns, key)).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %q: %w", key, err)
	}
	return nil
}

func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	start := time.Now()
	names, err := s.rdb.SMembers(ctx, registryKey).Result()
	observability.ObserveCacheOp("list", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", registryKey, err)
	}
	return names, nil
}

// DeleteNamespace scans out every entry under the given versioned name.
// Entry deletion runs unbounded by the op timeout: dropping a stale
// namespace may touch thousands of keys.
func (s *Store) DeleteNamespace(ctx context.Context, name string) error {
	start := time.Now()
	err := s.deleteByPrefix(ctx, name+":")
	observability.ObserveCacheOp("del_namespace", err, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if err := s.rdb.SRem(ctx, registryKey, name).Err(); err != nil {
		return fmt.Errorf("redis SREM %q: %w", name, err)
	}
	return nil
}

func (s *Store) deleteByPrefix(ctx context.Context, prefix string) error {
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 512).Iterator()
	batch := make([]string, 0, 512)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN %q: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
