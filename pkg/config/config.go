package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all medpassport configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Router   RouterConfig   `yaml:"router"`
	History  HistoryConfig  `yaml:"history"`
	Upload   UploadConfig   `yaml:"upload"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// CacheConfig controls the analysis cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	Dir           string        `yaml:"dir"`
	DBPath        string        `yaml:"db_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SingleFlight  bool          `yaml:"single_flight"`
	MemoryShards  int           `yaml:"memory_shards"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig is used by the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AnalyzerConfig configures the Gemini analysis client.
type AnalyzerConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	DefaultModel    string        `yaml:"default_model"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	TopK            int           `yaml:"top_k"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// RouterConfig defines per-kind model fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps an artifact kind to an ordered list of models.
type RouteConfig struct {
	Kind   string   `yaml:"kind"`
	Models []string `yaml:"models"`
}

// HistoryConfig controls the analysis history log.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// UploadConfig bounds uploads and controls artifact preparation.
type UploadConfig struct {
	MaxImageBytes     ByteSize `yaml:"max_image_bytes"`
	MaxReportBytes    ByteSize `yaml:"max_report_bytes"`
	MaxMediaBytes     ByteSize `yaml:"max_media_bytes"`
	ImageMaxDimension int      `yaml:"image_max_dimension"`
	JPEGQuality       int      `yaml:"jpeg_quality"`
	MaxImagePixels    int      `yaml:"max_image_pixels"`
	ReportCharLimit   int      `yaml:"report_char_limit"`
	ReportKeepChars   int      `yaml:"report_keep_chars"`
	BatchConcurrency  int      `yaml:"batch_concurrency"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ByteSize is a byte count that accepts either an integer or a human
// readable size such as "10MiB" or "50 MB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", node.Line)
	}
	n, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", node.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

// String renders the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Enabled:      true,
			Backend:      BackendFile,
			TTL:          24 * time.Hour,
			Dir:          "/tmp/medpassport/cache",
			DBPath:       "medpassport-cache.db",
			MemoryShards: 32,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "medpassport:analysis:",
			},
		},
		Analyzer: AnalyzerConfig{
			BaseURL:         "https://generativelanguage.googleapis.com",
			DefaultModel:    "gemini-2.0-flash",
			Timeout:         2 * time.Minute,
			Temperature:     0.4,
			TopP:            0.8,
			TopK:            40,
			MaxOutputTokens: 2048,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "medpassport-history.db",
			RetentionDays: 90,
		},
		Upload: UploadConfig{
			MaxImageBytes:     10 << 20,
			MaxReportBytes:    10 << 20,
			MaxMediaBytes:     50 << 20,
			ImageMaxDimension: 800,
			JPEGQuality:       85,
			MaxImagePixels:    40_000_000,
			ReportCharLimit:   5000,
			ReportKeepChars:   1000,
			BatchConcurrency:  4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("cache.sweep_interval must not be negative")
	}
	u := c.Upload
	if u.MaxImageBytes <= 0 || u.MaxReportBytes <= 0 || u.MaxMediaBytes <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	if u.ImageMaxDimension <= 0 {
		return fmt.Errorf("upload.image_max_dimension must be positive")
	}
	if u.JPEGQuality < 1 || u.JPEGQuality > 100 {
		return fmt.Errorf("upload.jpeg_quality must be within 1..100, got %d", u.JPEGQuality)
	}
	if u.MaxImagePixels <= 0 {
		return fmt.Errorf("upload.max_image_pixels must be positive")
	}
	if u.ReportKeepChars <= 0 || u.ReportCharLimit < 2*u.ReportKeepChars {
		return fmt.Errorf("upload.report_char_limit must be at least twice report_keep_chars")
	}
	if u.BatchConcurrency <= 0 {
		return fmt.Errorf("upload.batch_concurrency must be positive")
	}
	for _, r := range c.Router.Routes {
		if r.Kind == "" || len(r.Models) == 0 {
			return fmt.Errorf("router route needs a kind and at least one model")
		}
	}
	return nil
}
