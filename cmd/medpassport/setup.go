package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/cache/file"
	"github.com/Sidhtang/medpassport/pkg/cache/memory"
	redisstore "github.com/Sidhtang/medpassport/pkg/cache/redis"
	"github.com/Sidhtang/medpassport/pkg/cache/sqlite"
	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/logging"
	"github.com/Sidhtang/medpassport/pkg/metrics"
	"github.com/Sidhtang/medpassport/pkg/prepare"
)

const defaultConfigPath = "medpassport.yaml"

// loadConfig reads the --config file. A missing default file falls back to
// the built-in defaults; a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// openStore builds the configured cache backend.
func openStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return file.New(cfg.Dir)
	case config.BackendSQLite:
		return sqlite.New(cfg.DBPath)
	case config.BackendMemory:
		return memory.New(cfg.MemoryShards), nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisstore.New(rdb, cfg.Redis.Prefix, cfg.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

func openCache(cfg *config.Config, log *zap.Logger, m *metrics.Collector) (*cache.Cache, error) {
	store, err := openStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return cache.New(store, cfg.Cache.TTL,
		cache.WithLogger(logging.Component(log, "cache")),
		cache.WithMetrics(m),
		cache.WithName(cfg.Cache.Backend),
	), nil
}

func preparerFor(cfg *config.Config) *prepare.Preparer {
	return prepare.New(prepare.Options{
		ImageMaxDimension: cfg.Upload.ImageMaxDimension,
		JPEGQuality:       cfg.Upload.JPEGQuality,
		MaxImagePixels:    cfg.Upload.MaxImagePixels,
		ReportCharLimit:   cfg.Upload.ReportCharLimit,
		ReportKeepChars:   cfg.Upload.ReportKeepChars,
	})
}
