// Package config provides codermill configuration management.
//
// Configuration is read from a TOML file (codermill.toml) with
// CODERMILL_* environment variable overrides, and can be hot-reloaded
// through the fsnotify-based Watcher.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root codermill configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Coding   CodingConfig   `mapstructure:"coding"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CodingConfig configures response aggregation and batch coding
type CodingConfig struct {
	// MatchingMode is the workspace-level default for response value
	// matching, a comma-separated list of flags
	// (no_aggregation, ignore_case, ignore_whitespace)
	MatchingMode string `mapstructure:"matching_mode"`
	// ChunkSize is the number of test persons processed per batch chunk
	ChunkSize int `mapstructure:"chunk_size"`
	// SubBatchSize is the number of response rows updated per statement
	// batch inside a chunk transaction
	SubBatchSize int `mapstructure:"sub_batch_size"`
	// CacheTTLSeconds is the lifetime of cached scheme documents,
	// unit definitions and statistics entries
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// WorkerConfig configures the background job worker pool
type WorkerConfig struct {
	Workers             int     `mapstructure:"workers"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	DispatchPerSecond   float64 `mapstructure:"dispatch_per_second"`
}

// CacheTTL returns the configured cache TTL as a duration
func (c CodingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// PollInterval returns the configured worker poll interval as a duration
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "codermill.db")

	// Coding defaults
	v.SetDefault("coding.matching_mode", "ignore_case,ignore_whitespace")
	v.SetDefault("coding.chunk_size", 100)
	v.SetDefault("coding.sub_batch_size", 500)
	v.SetDefault("coding.cache_ttl_seconds", 600)

	// Worker defaults
	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.dispatch_per_second", 2.0)
}
