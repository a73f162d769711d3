// Package cache implements the analysis result cache: a TTL-bounded mapping
// from (content fingerprint, category, role) to a stored analysis text.
//
// Cache faults never fail a request. A store that cannot be read is a miss
// and a store that cannot be written drops the entry after logging it.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/metrics"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// DefaultTTL is the validity window of a cached analysis.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by a Store when no entry exists for a key.
var ErrNotFound = errors.New("cache: entry not found")

// Store is the persistence capability behind a Cache. Implementations must
// make Put atomic per entry: a concurrent Get observes either the previous
// entry or the new one, never a partial write.
type Store interface {
	// Get returns the entry for key or ErrNotFound.
	Get(ctx context.Context, key models.CacheKey) (models.CacheEntry, error)
	// Put writes entry, replacing any existing entry for key.
	Put(ctx context.Context, key models.CacheKey, entry models.CacheEntry) error
	Delete(ctx context.Context, key models.CacheKey) error
	// DeleteBefore removes entries created at or before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Len(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for suppressed faults.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithMetrics reports lookups and failures to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithName sets the backend name reported by Stats.
func WithName(name string) Option {
	return func(c *Cache) { c.name = name }
}

// Cache is the analysis cache. It is safe for concurrent use; contention
// is whatever the underlying Store imposes.
type Cache struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Collector
	name    string

	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	storeFailures atomic.Int64
}

// New wraps store with the given TTL. A non-positive ttl selects DefaultTTL.
func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the cached analysis for key if one exists and is younger
// than the TTL. Store faults are logged and reported as a miss. Lookup never
// removes entries; expired ones stay until overwritten or swept.
func (c *Cache) Lookup(ctx context.Context, key models.CacheKey) (string, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.misses.Add(1)
		if errors.Is(err, ErrNotFound) {
			c.metrics.CacheLookup(metrics.LookupMiss)
			c.log.Debug("cache miss", keyFields(key)...)
			return "", false
		}
		c.errors.Add(1)
		c.metrics.CacheLookup(metrics.LookupError)
		c.log.Warn("cache lookup failed, treating as miss", append(keyFields(key), zap.Error(err))...)
		return "", false
	}

	if !c.fresh(entry) {
		c.misses.Add(1)
		c.metrics.CacheLookup(metrics.LookupExpired)
		c.log.Debug("cache entry expired", append(keyFields(key), zap.Time("created_at", entry.CreatedAt))...)
		return "", false
	}

	c.hits.Add(1)
	c.metrics.CacheLookup(metrics.LookupHit)
	c.log.Debug("cache hit", keyFields(key)...)
	return entry.Analysis, true
}

// Store records text for key with the current time, replacing any previous
// entry. The error is returned so callers can log the suppression; it must
// never fail the surrounding request.
func (c *Cache) Store(ctx context.Context, key models.CacheKey, text string) error {
	err := c.store.Put(ctx, key, models.CacheEntry{CreatedAt: c.now(), Analysis: text})
	if err != nil {
		c.storeFailures.Add(1)
		c.metrics.CacheStoreFailure()
		return err
	}
	return nil
}

// Sweep physically removes every expired entry and returns how many were
// removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteBefore(ctx, c.now().Add(-c.ttl))
	if err != nil {
		return n, err
	}
	c.metrics.CacheSwept(n)
	return n, nil
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				c.log.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.log.Info("cache sweep removed expired entries", zap.Int64("removed", n))
			}
		}
	}
}

// Stats returns counters and the current entry count.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := c.store.Len(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	return models.CacheStats{
		Backend:       c.name,
		Entries:       n,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.errors.Load(),
		StoreFailures: c.storeFailures.Load(),
		TTL:           c.ttl,
	}, nil
}

// Forget removes the entry for key, fresh or not. A missing entry is not an
// error.
func (c *Cache) Forget(ctx context.Context, key models.CacheKey) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	c.log.Debug("cache entry forgotten", keyFields(key)...)
	return nil
}

// Clear removes entries. If expiredOnly is true, only expired entries are
// removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		_, err := c.Sweep(ctx)
		return err
	}
	return c.store.Clear(ctx)
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// fresh reports whether entry is still within the TTL. An entry whose age
// equals the TTL is expired.
func (c *Cache) fresh(entry models.CacheEntry) bool {
	return c.now().Sub(entry.CreatedAt) < c.ttl
}

func keyFields(key models.CacheKey) []zap.Field {
	return []zap.Field{
		zap.String("fingerprint", key.Fingerprint),
		zap.String("category", key.Category),
		zap.String("role", key.Role),
	}
}
