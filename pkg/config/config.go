// Package config loads and validates index configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// indexing pipeline, query execution, logging and metrics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig controls the indexing pipeline: spill thresholds for the
// external sort, worker fan-out, postings block size, and writer locking.
type IndexConfig struct {
	// SpillThresholdBytes is the approximate buffered-tuple size at which a
	// sort pool spills a run to temporary storage.
	SpillThresholdBytes int64 `yaml:"spillThresholdBytes"`

	// Workers is the number of parallel indexing workers. Zero or one means
	// single-threaded.
	Workers int `yaml:"workers"`

	// PostingsBlockSize is the number of postings per codec block.
	PostingsBlockSize int `yaml:"postingsBlockSize"`

	// LockWait bounds how long a writer waits for the write lock before
	// failing with ErrLockBusy. Zero means fail fast.
	LockWait time.Duration `yaml:"lockWait"`

	// LockRetryInterval is the poll interval while waiting for the lock.
	LockRetryInterval time.Duration `yaml:"lockRetryInterval"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads the YAML file at path, applies defaults for unset fields and
// TS_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			SpillThresholdBytes: 64 << 20,
			Workers:             4,
			PostingsBlockSize:   128,
			LockWait:            0,
			LockRetryInterval:   50 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Index.SpillThresholdBytes <= 0 {
		return fmt.Errorf("index.spillThresholdBytes must be positive, got %d", c.Index.SpillThresholdBytes)
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must be non-negative, got %d", c.Index.Workers)
	}
	if c.Index.PostingsBlockSize <= 0 {
		return fmt.Errorf("index.postingsBlockSize must be positive, got %d", c.Index.PostingsBlockSize)
	}
	if c.Index.LockRetryInterval <= 0 {
		return fmt.Errorf("index.lockRetryInterval must be positive, got %v", c.Index.LockRetryInterval)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: default %d, max %d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// applyEnvOverrides reads TS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TS_INDEX_SPILL_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Index.SpillThresholdBytes = n
		}
	}
	if v := os.Getenv("TS_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("TS_INDEX_LOCK_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Index.LockWait = d
		}
	}
	if v := os.Getenv("TS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TS_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
}
