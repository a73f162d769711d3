package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/models"
)

func testCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringP("config", "c", defaultConfigPath, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(testCmd(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Listen, cfg.Listen)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	_, err := loadConfig(testCmd(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medpassport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\ncache:\n  backend: memory\n"), 0o644))

	cfg, err := loadConfig(testCmd(t, "-c", path))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, config.BackendMemory, cfg.Cache.Backend)
}

func TestOpenCacheBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	for _, backend := range []string{config.BackendFile, config.BackendSQLite, config.BackendMemory, config.BackendRedis} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Cache.Backend = backend
			cfg.Cache.Dir = filepath.Join(dir, "files")
			cfg.Cache.DBPath = filepath.Join(dir, "cache.db")
			cfg.Cache.Redis.Addr = mr.Addr()

			c, err := openCache(cfg, nil, nil)
			require.NoError(t, err)
			defer c.Close()

			ctx := context.Background()
			key := models.CacheKey{Fingerprint: "abc", Category: "X-Ray", Role: backend}
			require.NoError(t, c.Store(ctx, key, "ok"))
			text, ok := c.Lookup(ctx, key)
			assert.True(t, ok)
			assert.Equal(t, "ok", text)

			stats, err := c.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, backend, stats.Backend)
			assert.Equal(t, 24*time.Hour, stats.TTL)
		})
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := openStore(config.CacheConfig{Backend: "s3"})
	assert.Error(t, err)
}
