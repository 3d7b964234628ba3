package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full tunable surface of a blob node. Durations are whole
// seconds in the TOML file, matching how retention is advertised on the wire.
type Config struct {
	// ChunkSize is the fixed chunk size in bytes; it is configuration,
	// never negotiated per request.
	ChunkSize int `toml:"chunk_size"`
	// MaxFileSize rejects oversized store requests before any hashing work.
	MaxFileSize uint64 `toml:"max_file_size"`
	// MaxStorageBytes bounds aggregate stored content; stores that would
	// exceed it fail with STORAGE_FULL.
	MaxStorageBytes uint64 `toml:"max_storage_bytes"`
	// RetentionSeconds is how long a stored file lives before expiry.
	RetentionSeconds int64 `toml:"retention_seconds"`
	// ResponseTimeoutSeconds bounds the wait for a correlated response.
	ResponseTimeoutSeconds int64 `toml:"response_timeout_seconds"`
	// CollectTimeoutSeconds bounds the wait for a full chunk set.
	CollectTimeoutSeconds int64 `toml:"collect_timeout_seconds"`
	// SweepIntervalSeconds is the cadence of the expiry sweep.
	SweepIntervalSeconds int64 `toml:"sweep_interval_seconds"`
	// StorageDir persists stored files under this directory so they
	// survive restarts. Empty keeps storage memory-only.
	StorageDir string `toml:"storage_dir"`
	// ServerName labels the announcement for humans.
	ServerName string `toml:"server_name"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ChunkSize:              32768,
		MaxFileSize:            10 * 1024 * 1024,
		MaxStorageBytes:        1 << 30,
		RetentionSeconds:       24 * 3600,
		ResponseTimeoutSeconds: 30,
		CollectTimeoutSeconds:  60,
		SweepIntervalSeconds:   300,
		ServerName:             "dps blob storage",
	}
}

// Load decodes a TOML config file over the defaults, so partial files only
// override what they name.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the protocol cannot operate with.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	if c.MaxFileSize == 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if c.RetentionSeconds < 1 {
		return fmt.Errorf("retention_seconds must be at least 1, got %d", c.RetentionSeconds)
	}
	if c.SweepIntervalSeconds < 1 {
		return fmt.Errorf("sweep_interval_seconds must be at least 1, got %d", c.SweepIntervalSeconds)
	}
	return nil
}

// Retention returns the retention period as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// ResponseTimeout returns the correlated-response wait as a duration.
func (c Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutSeconds) * time.Second
}

// CollectTimeout returns the chunk-collection wait as a duration.
func (c Config) CollectTimeout() time.Duration {
	return time.Duration(c.CollectTimeoutSeconds) * time.Second
}

// SweepInterval returns the sweep cadence as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
