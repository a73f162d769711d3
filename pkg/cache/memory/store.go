// Package memory implements an in-process cache.Store split into shards so
// that requests for different keys rarely contend on the same lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[models.CacheKey]models.CacheEntry
}

// Store is a sharded map of cache entries.
type Store struct {
	shards []*shard
}

// New creates a Store with n shards.
func New(n int) *Store {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[models.CacheKey]models.CacheEntry)}
	}
	return s
}

func (s *Store) shardFor(key models.CacheKey) *shard {
	h := xxhash.Sum64String(key.String())
	return s.shards[h%uint64(len(s.shards))]
}

// Get returns the entry for key or cache.ErrNotFound.
func (s *Store) Get(_ context.Context, key models.CacheKey) (models.CacheEntry, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return models.CacheEntry{}, cache.ErrNotFound
	}
	return e, nil
}

// Put stores entry under key.
func (s *Store) Put(_ context.Context, key models.CacheKey, entry models.CacheEntry) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = entry
	sh.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key models.CacheKey) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// DeleteBefore removes entries created at or before cutoff, one shard at a
// time.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !e.CreatedAt.After(cutoff) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the total number of entries.
func (s *Store) Len(context.Context) (int64, error) {
	var n int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += int64(len(sh.entries))
		sh.mu.RUnlock()
	}
	return n, nil
}

// Clear drops every entry.
func (s *Store) Clear(context.Context) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[models.CacheKey]models.CacheEntry)
		sh.mu.Unlock()
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
