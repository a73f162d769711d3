// Package redis implements a cache.Store on Redis. Entries carry a native
// expiry equal to the cache TTL so Redis evicts them physically; freshness
// is still decided by cache.Cache from the stored creation time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "medpassport:analysis:"

const scanBatch = 256

// Store keeps entries as JSON strings under prefix + key.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	expiry time.Duration
}

// New wraps rdb. expiry is the native key expiry; zero disables it.
func New(rdb redis.UniversalClient, prefix string, expiry time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, expiry: expiry}
}

func (s *Store) redisKey(key models.CacheKey) string {
	return s.prefix + key.String()
}

// Get returns the entry for key or cache.ErrNotFound.
func (s *Store) Get(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	data, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("redis get: %w", err)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return models.CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}

// Put writes entry with the configured expiry. SET replaces atomically.
func (s *Store) Put(ctx context.Context, key models.CacheKey, entry models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.rdb.Set(ctx, s.redisKey(key), data, s.expiry).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key models.CacheKey) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteBefore removes entries created at or before cutoff. Undecodable
// values are removed too.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.scan(ctx, func(keys []string) error {
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis mget: %w", err)
		}
		var stale []string
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var e models.CacheEntry
			if json.Unmarshal([]byte(str), &e) == nil && e.CreatedAt.After(cutoff) {
				continue
			}
			stale = append(stale, keys[i])
		}
		if len(stale) == 0 {
			return nil
		}
		n, err := s.rdb.Del(ctx, stale...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += n
		return nil
	})
	return removed, err
}

// Len counts keys under the prefix.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.scan(ctx, func(keys []string) error {
		n += int64(len(keys))
		return nil
	})
	return n, err
}

// Clear deletes every key under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
