package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// Store is a cache.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	fingerprint TEXT NOT NULL,
	category TEXT NOT NULL,
	role TEXT NOT NULL,
	analysis TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (fingerprint, category, role)
);
CREATE INDEX IF NOT EXISTS idx_analysis_cache_created ON analysis_cache(created_at);
`

// New opens (or creates) the cache database at dbPath. All access goes
// through a single connection so concurrent requests queue on the pool
// instead of failing with SQLITE_BUSY.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get retrieves the entry for key.
func (s *Store) Get(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	var analysis string
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT analysis, created_at FROM analysis_cache WHERE fingerprint = ? AND category = ? AND role = ?`,
		key.Fingerprint, key.Category, key.Role,
	).Scan(&analysis, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("cache get: %w", err)
	}

	return models.CacheEntry{CreatedAt: time.UnixMilli(createdAt).UTC(), Analysis: analysis}, nil
}

// Put stores an entry, replacing any existing one for key.
func (s *Store) Put(ctx context.Context, key models.CacheKey, entry models.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO analysis_cache (fingerprint, category, role, analysis, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key.Fingerprint, key.Category, key.Role, entry.Analysis, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key models.CacheKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE fingerprint = ? AND category = ? AND role = ?`,
		key.Fingerprint, key.Category, key.Role,
	)
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeleteBefore removes entries created at or before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE created_at <= ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Clear removes all entries.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
