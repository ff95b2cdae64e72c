package redisstore

import (
	"context"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/voyagekit/offline-engine/internal/cache"
)

func newMini(t *testing.T, version string) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	s, err := New(ctx, mr.Addr(), version)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMiniShared(t *testing.T) (*miniredis.Miniredis, func(version string) *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, func(version string) *Store {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s, err := New(ctx, mr.Addr(), version)
		if err != nil {
			t.Fatalf("New(%s): %v", version, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
}

func testEntry(body string) *cache.Entry {
	return &cache.Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": {"text/html"}},
		Body:     []byte(body),
		StoredAt: time.Now().UTC(),
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	s := newMini(t, "v2")
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, cache.Core, "k"); err != nil || ok {
		t.Fatalf("empty get: ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, cache.Core, "k", testEntry("<html>")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, ok, err := s.Get(ctx, cache.Core, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(e.Body) != "<html>" {
		t.Fatalf("body=%q", e.Body)
	}

	if err := s.Delete(ctx, cache.Core, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, cache.Core, "k"); ok {
		t.Fatalf("entry survived delete")
	}
}

func TestStore_VersionsAreIsolated(t *testing.T) {
	_, open := newMiniShared(t)
	ctx := context.Background()

	v1 := open("v1")
	v2 := open("v2")

	if err := v1.Put(ctx, cache.Data, "k", testEntry("old")); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if _, ok, _ := v2.Get(ctx, cache.Data, "k"); ok {
		t.Fatalf("v2 read a v1 entry")
	}
}

func TestStore_NamespaceRegistryAndDeletion(t *testing.T) {
	_, open := newMiniShared(t)
	ctx := context.Background()

	v1 := open("v1")
	v2 := open("v2")

	if err := v1.Put(ctx, cache.Maps, "t1", testEntry("tile")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := v2.Put(ctx, cache.Maps, "t1", testEntry("tile")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	names, err := v2.ListNamespaces(ctx)
	if err != nil {
		t.Fatalf("ListNamespaces: %v", err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["maps-cache-v1"] || !seen["maps-cache-v2"] {
		t.Fatalf("registry missing names: %v", names)
	}

	if err := v2.DeleteNamespace(ctx, "maps-cache-v1"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if _, ok, _ := v1.Get(ctx, cache.Maps, "t1"); ok {
		t.Fatalf("stale entry survived namespace deletion")
	}
	if _, ok, _ := v2.Get(ctx, cache.Maps, "t1"); !ok {
		t.Fatalf("current entry was deleted")
	}

	names, _ = v2.ListNamespaces(ctx)
	for _, n := range names {
		if n == "maps-cache-v1" {
			t.Fatalf("deleted namespace still registered")
		}
	}
}

func TestStore_FullNameScheme(t *testing.T) {
	s := newMini(t, "v7")
	if got := s.FullName(cache.Offline); got != "offline-cache-v7" {
		t.Fatalf("FullName=%q", got)
	}
	if got := len(s.CurrentNames()); got != 4 {
		t.Fatalf("CurrentNames len=%d", got)
	}
}
