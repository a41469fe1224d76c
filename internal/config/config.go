// Package config loads and validates the engine configuration from
// YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	WAL        WALConfig        `yaml:"wal"`
	PageCache  PageCacheConfig  `yaml:"page_cache"`
}

// CheckpointConfig tunes the checkpoint coordinator and its threshold
// policy. A zero threshold criterion disables that criterion.
type CheckpointConfig struct {
	// Interval is the background scheduler tick.
	Interval time.Duration `yaml:"interval"`
	// EveryTransactions fires the threshold after this many closed
	// transactions since the last checkpoint.
	EveryTransactions uint64 `yaml:"every_transactions"`
	// EveryBytes fires the threshold after this much appended log
	// volume since the last checkpoint.
	EveryBytes uint64 `yaml:"every_bytes"`
	// IOLimit caps checkpoint flush IOs per second. Negative means
	// unlimited.
	IOLimit int64 `yaml:"io_limit"`
}

// WALConfig locates and sizes the transaction log.
type WALConfig struct {
	Directory   string `yaml:"directory"`
	SegmentSize uint64 `yaml:"segment_size"`
}

// PageCacheConfig sizes the page cache and locates the page file.
type PageCacheConfig struct {
	PageFile       string `yaml:"page_file"`
	PageSize       int    `yaml:"page_size"`
	MaxCachedBytes int64  `yaml:"max_cached_bytes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Checkpoint: CheckpointConfig{
			Interval:          15 * time.Minute,
			EveryTransactions: 100_000,
			EveryBytes:        256 << 20,
			IOLimit:           -1,
		},
		WAL: WALConfig{
			Directory:   "data/wal",
			SegmentSize: 64 << 20,
		},
		PageCache: PageCacheConfig{
			PageFile:       "data/pages.db",
			PageSize:       8192,
			MaxCachedBytes: 512 << 20,
		},
	}
}

// Load reads the YAML file at path into the defaults and validates
// the result. Fields absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("checkpoint.interval must be positive, got %s", c.Checkpoint.Interval)
	}
	if c.WAL.Directory == "" {
		return fmt.Errorf("wal.directory must not be empty")
	}
	if c.PageCache.PageFile == "" {
		return fmt.Errorf("page_cache.page_file must not be empty")
	}
	if c.PageCache.PageSize <= 0 {
		return fmt.Errorf("page_cache.page_size must be positive, got %d", c.PageCache.PageSize)
	}
	if c.PageCache.MaxCachedBytes < int64(c.PageCache.PageSize) {
		return fmt.Errorf("page_cache.max_cached_bytes %d is below one page (%d)",
			c.PageCache.MaxCachedBytes, c.PageCache.PageSize)
	}
	return nil
}
