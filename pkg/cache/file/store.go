// Package file implements a cache.Store that keeps one JSON document per
// key in a directory.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/models"
)

const (
	ext = ".json"
	// maxNameLen keeps file names under common filesystem limits.
	maxNameLen = 240
)

// Store keeps entries as <dir>/<fingerprint>_<category>_<role>.json.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key models.CacheKey) string {
	name := key.String()
	if len(name)+len(ext) > maxNameLen {
		sum := sha256.Sum256([]byte(name))
		name = "k_" + hex.EncodeToString(sum[:])
	}
	return filepath.Join(s.dir, name+ext)
}

// Get reads the entry for key. A file that cannot be decoded is reported as
// an error rather than a miss.
func (s *Store) Get(ctx context.Context, key models.CacheKey) (models.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheEntry{}, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return models.CacheEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("read cache file: %w", err)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return models.CacheEntry{}, fmt.Errorf("decode cache file: %w", err)
	}
	return e, nil
}

// Put writes the entry to a temporary file and renames it into place so
// readers never observe a partial document.
func (s *Store) Put(ctx context.Context, key models.CacheKey, entry models.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, key models.CacheKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}

// DeleteBefore removes entries created at or before cutoff. Files that
// cannot be decoded are removed as well.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	files, err := s.entries()
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read cache file: %w", err)
		}
		var e models.CacheEntry
		if json.Unmarshal(data, &e) == nil && e.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("delete cache file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of entry files.
func (s *Store) Len(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	files, err := s.entries()
	if err != nil {
		return 0, err
	}
	return int64(len(files)), nil
}

// Clear removes every entry file.
func (s *Store) Clear(ctx context.Context) error {
	files, err := s.entries()
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete cache file: %w", err)
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) entries() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	var out []string
	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	return out, nil
}
