package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/Sidhtang/medpassport/pkg/models"
)

// mapStore is an in-memory Store with switchable faults.
type mapStore struct {
	mu      sync.Mutex
	entries map[models.CacheKey]models.CacheEntry
	getErr  error
	putErr  error
	deleted int
	closed  bool
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[models.CacheKey]models.CacheEntry)}
}

func (s *mapStore) Get(_ context.Context, key models.CacheKey) (models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return models.CacheEntry{}, s.getErr
	}
	e, ok := s.entries[key]
	if !ok {
		return models.CacheEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *mapStore) Put(_ context.Context, key models.CacheKey, entry models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[key] = entry
	return nil
}

func (s *mapStore) Delete(_ context.Context, key models.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	s.deleted++
	return nil
}

func (s *mapStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !e.CreatedAt.After(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *mapStore) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *mapStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[models.CacheKey]models.CacheEntry)
	return nil
}

func (s *mapStore) Close() error {
	s.closed = true
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testKey() models.CacheKey {
	return models.CacheKey{Fingerprint: "abc", Category: "X-Ray", Role: "Patient"}
}

func TestStoreThenLookup(t *testing.T) {
	c := New(newMapStore(), time.Hour)
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, testKey()); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Store(ctx, testKey(), "Findings: none"); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Lookup(ctx, testKey())
	if !ok || got != "Findings: none" {
		t.Fatalf("expected hit with stored text, got %q %v", got, ok)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMapStore()
	ttl := 24 * time.Hour
	c := New(store, ttl, WithClock(clock.Now))
	ctx := context.Background()

	if err := c.Store(ctx, testKey(), "analysis"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(ttl - time.Millisecond)
	if _, ok := c.Lookup(ctx, testKey()); !ok {
		t.Fatal("expected hit just before TTL")
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Lookup(ctx, testKey()); ok {
		t.Fatal("expected miss at exactly TTL")
	}
	if store.deleted != 0 {
		t.Errorf("lookup must not delete entries, deletes=%d", store.deleted)
	}
}

// racingStore stores a fresh entry for the same key right after handing out
// a stale one, the interleaving two concurrent requests can produce.
type racingStore struct {
	*mapStore
	once  sync.Once
	write func()
}

func (s *racingStore) Get(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	e, err := s.mapStore.Get(ctx, key)
	s.once.Do(s.write)
	return e, err
}

func TestExpiredLookupKeepsConcurrentWrite(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := &racingStore{mapStore: newMapStore()}
	c := New(store, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	store.entries[testKey()] = models.CacheEntry{CreatedAt: clock.Now(), Analysis: "stale"}
	clock.Advance(2 * time.Hour)
	store.write = func() {
		if err := c.Store(ctx, testKey(), "fresh"); err != nil {
			t.Error(err)
		}
	}

	if _, ok := c.Lookup(ctx, testKey()); ok {
		t.Fatal("expected miss for expired entry")
	}
	got, ok := c.Lookup(ctx, testKey())
	if !ok || got != "fresh" {
		t.Fatalf("concurrently stored entry was lost: %q %v", got, ok)
	}
}

func TestForget(t *testing.T) {
	store := newMapStore()
	c := New(store, time.Hour)
	ctx := context.Background()

	if err := c.Store(ctx, testKey(), "analysis"); err != nil {
		t.Fatal(err)
	}
	if err := c.Forget(ctx, testKey()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(ctx, testKey()); ok {
		t.Fatal("expected miss after forget")
	}
	if err := c.Forget(ctx, testKey()); err != nil {
		t.Errorf("forgetting a missing entry should succeed, got %v", err)
	}
}

func TestKeySensitivity(t *testing.T) {
	c := New(newMapStore(), time.Hour)
	ctx := context.Background()
	base := testKey()
	if err := c.Store(ctx, base, "patient view"); err != nil {
		t.Fatal(err)
	}

	others := []models.CacheKey{
		{Fingerprint: base.Fingerprint, Category: base.Category, Role: "Doctor"},
		{Fingerprint: base.Fingerprint, Category: "CT Scan", Role: base.Role},
		{Fingerprint: "abd", Category: base.Category, Role: base.Role},
	}
	for _, k := range others {
		if _, ok := c.Lookup(ctx, k); ok {
			t.Errorf("key %s should not hit entry stored under %s", k, base)
		}
	}
}

func TestOverwriteLastWriteWins(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(newMapStore(), time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	_ = c.Store(ctx, testKey(), "first")
	clock.Advance(50 * time.Minute)
	_ = c.Store(ctx, testKey(), "second")
	clock.Advance(30 * time.Minute)

	got, ok := c.Lookup(ctx, testKey())
	if !ok || got != "second" {
		t.Fatalf("expected overwritten entry with refreshed timestamp, got %q %v", got, ok)
	}
}

func TestLookupStoreFaultIsMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newMapStore()
	store.getErr = errors.New("disk on fire")
	c := New(store, time.Hour, WithLogger(zap.New(core)))

	if _, ok := c.Lookup(context.Background(), testKey()); ok {
		t.Fatal("expected miss on store fault")
	}
	if logs.FilterMessage("cache lookup failed, treating as miss").Len() != 1 {
		t.Errorf("expected the fault to be logged, got %v", logs.All())
	}
	stats, _ := c.Stats(context.Background())
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
}

func TestStoreFailureIsReturnedAndCounted(t *testing.T) {
	store := newMapStore()
	store.putErr = errors.New("read-only")
	c := New(store, time.Hour)

	if err := c.Store(context.Background(), testKey(), "x"); err == nil {
		t.Fatal("expected store error to be returned")
	}
	stats, _ := c.Stats(context.Background())
	if stats.StoreFailures != 1 || stats.Entries != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	store.putErr = nil
	if err := c.Store(context.Background(), testKey(), "x"); err != nil {
		t.Fatalf("store should recover once the fault clears: %v", err)
	}
}

func TestSweepAndClear(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMapStore()
	c := New(store, time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	_ = c.Store(ctx, models.CacheKey{Fingerprint: "old", Category: "X-Ray", Role: "Patient"}, "old")
	clock.Advance(time.Hour)
	_ = c.Store(ctx, models.CacheKey{Fingerprint: "new", Category: "X-Ray", Role: "Patient"}, "new")

	if err := c.Clear(ctx, true); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Fatalf("expected 1 entry after expired-only clear, got %d", n)
	}

	if err := c.Clear(ctx, false); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Fatalf("expected empty store after clear, got %d", n)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	c := New(newMapStore(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDefaultTTL(t *testing.T) {
	if got := New(newMapStore(), 0).TTL(); got != DefaultTTL {
		t.Errorf("expected default TTL, got %v", got)
	}
}

func TestLookupKeyIsolationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := New(newMapStore(), time.Hour)
		ctx := context.Background()
		a := models.CacheKey{
			Fingerprint: rapid.StringMatching(`[0-9a-f]{8}`).Draw(rt, "fp"),
			Category:    rapid.SampledFrom([]string{"X-Ray", "CT Scan", "MRI"}).Draw(rt, "cat"),
			Role:        rapid.SampledFrom([]string{"Patient", "Doctor"}).Draw(rt, "role"),
		}
		b := models.CacheKey{
			Fingerprint: rapid.StringMatching(`[0-9a-f]{8}`).Draw(rt, "fp2"),
			Category:    rapid.SampledFrom([]string{"X-Ray", "CT Scan", "MRI"}).Draw(rt, "cat2"),
			Role:        rapid.SampledFrom([]string{"Patient", "Doctor"}).Draw(rt, "role2"),
		}
		_ = c.Store(ctx, a, "a")
		got, ok := c.Lookup(ctx, b)
		if a == b {
			if !ok || got != "a" {
				rt.Fatalf("identical key missed")
			}
			return
		}
		if ok {
			rt.Fatalf("key %v hit entry stored under %v", b, a)
		}
	})
}
