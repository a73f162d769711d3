package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func key(fp, category, role string) models.CacheKey {
	return models.CacheKey{Fingerprint: fp, Category: category, Role: role}
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000123).UTC()

	if err := s.Put(ctx, key("h1", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: created, Analysis: "Findings: none"}); err != nil {
		t.Fatal(err)
	}

	e, err := s.Get(ctx, key("h1", "X-Ray", "Patient"))
	if err != nil {
		t.Fatal(err)
	}
	if e.Analysis != "Findings: none" || !e.CreatedAt.Equal(created) {
		t.Errorf("unexpected entry: %+v", e)
	}

	// Miss for different role
	if _, err := s.Get(ctx, key("h1", "X-Ray", "Doctor")); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := key("h1", "X-Ray", "Patient")

	_ = s.Put(ctx, k, models.CacheEntry{CreatedAt: time.UnixMilli(1000), Analysis: "first"})
	_ = s.Put(ctx, k, models.CacheEntry{CreatedAt: time.UnixMilli(2000), Analysis: "second"})

	e, err := s.Get(ctx, k)
	if err != nil {
		t.Fatal(err)
	}
	if e.Analysis != "second" || e.CreatedAt.UnixMilli() != 2000 {
		t.Errorf("expected last write to win, got %+v", e)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestDeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, key("old", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: time.UnixMilli(1000), Analysis: "a"})
	_ = s.Put(ctx, key("edge", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: time.UnixMilli(2000), Analysis: "b"})
	_ = s.Put(ctx, key("new", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: time.UnixMilli(3000), Analysis: "c"})

	n, err := s.DeleteBefore(ctx, time.UnixMilli(2000))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, err := s.Get(ctx, key("new", "X-Ray", "Patient")); err != nil {
		t.Errorf("newest entry should survive: %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, key("h1", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: time.Now(), Analysis: "a"})
	_ = s.Put(ctx, key("h2", "X-Ray", "Patient"), models.CacheEntry{CreatedAt: time.Now(), Analysis: "b"})

	if err := s.Delete(ctx, key("h1", "X-Ray", "Patient")); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("expected 1 entry after delete, got %d", n)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("expected 0 entries after clear, got %d", n)
	}
}

func TestCacheOverSQLite(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(newTestStore(t), time.Hour, cache.WithClock(func() time.Time { return now }), cache.WithName("sqlite"))
	ctx := context.Background()
	k := key("h1", "X-Ray", "Patient")

	if err := c.Store(ctx, k, "Findings: none"); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Lookup(ctx, k); !ok || got != "Findings: none" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	now = now.Add(time.Hour)
	if _, ok := c.Lookup(ctx, k); ok {
		t.Fatal("expected miss once TTL elapsed")
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Backend != "sqlite" || stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	s := newTestStore(t)
	_ = s.Close()
	if _, err := s.Get(context.Background(), key("h1", "X-Ray", "Patient")); err == nil || errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected a store fault from a closed db, got %v", err)
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	var wg sync.WaitGroup
	var failures atomic.Int64
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				k := key(fmt.Sprintf("fp-%d-%d", w, i), "X-Ray", "Patient")
				want := fmt.Sprintf("analysis %d/%d", w, i)
				if err := s.Put(ctx, k, models.CacheEntry{Analysis: want, CreatedAt: now}); err != nil {
					failures.Add(1)
					continue
				}
				got, err := s.Get(ctx, k)
				if err != nil || got.Analysis != want {
					failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("expected no failures across concurrent writers, got %d", n)
	}
	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 16*50 {
		t.Errorf("expected %d entries, got %d", 16*50, n)
	}
}
