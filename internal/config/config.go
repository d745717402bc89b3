// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package config provides layered configuration for the experimentation
// engine using Koanf v2.
//
// Loading order (later layers override earlier ones):
//  1. Defaults: built-in sensible defaults for every setting
//  2. Config file: optional YAML file (config.yaml)
//  3. Environment variables: STYLEFEED_SERVER_PORT, STYLEFEED_DATABASE_PATH,
//     STYLEFEED_BANDIT_EPSILON, ...
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Experiments ExperimentsConfig `koanf:"experiments"`
	Bandit      BanditConfig      `koanf:"bandit"`
	Tracking    TrackingConfig    `koanf:"tracking"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the listen address.
	Host string `koanf:"host"`

	// Port is the listen port.
	Port int `koanf:"port"`

	// Timeout is the per-request read/write timeout.
	Timeout time.Duration `koanf:"timeout"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment is "development" or "production".
	Environment string `koanf:"environment"`
}

// DatabaseConfig holds DuckDB configuration.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty string opens an in-memory
	// database (used by tests).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ExperimentsConfig holds assignment-path configuration.
type ExperimentsConfig struct {
	// DefaultVariant is the sentinel variant name returned when no
	// experiment applies or the subject is excluded by traffic allocation.
	DefaultVariant string `koanf:"default_variant"`

	// ExposureImpressions records an impression event on every successful
	// assignment resolution.
	ExposureImpressions bool `koanf:"exposure_impressions"`
}

// BanditConfig holds defaults for the arm-selection algorithms.
type BanditConfig struct {
	// DefaultAlgorithm is used when a variant config requests bandit
	// ordering without naming one: thompson, ucb, or epsilon.
	DefaultAlgorithm string `koanf:"default_algorithm"`

	// Epsilon is the exploration rate for epsilon-greedy (0-1).
	Epsilon float64 `koanf:"epsilon"`

	// UCBConstant is the exploration constant c for UCB1. 0 = sqrt(2).
	UCBConstant float64 `koanf:"ucb_constant"`

	// ClickReward and ConversionReward are the reward magnitudes forwarded
	// to arm state for click and conversion events.
	ClickReward      float64 `koanf:"click_reward"`
	ConversionReward float64 `koanf:"conversion_reward"`
}

// TrackingConfig holds the fire-and-forget tracking pipeline configuration.
type TrackingConfig struct {
	// WALPath is the Badger directory for the durable reward WAL.
	// Empty string uses an in-memory Badger instance (tests).
	WALPath string `koanf:"wal_path"`

	// RetryInterval is how often pending WAL entries are retried.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// RetryRatePerSecond throttles reward replay against the store.
	// 0 = unlimited.
	RetryRatePerSecond float64 `koanf:"retry_rate_per_second"`

	// MaxAttempts is the per-entry retry budget before the entry is
	// parked for operator attention. 0 = unlimited.
	MaxAttempts int `koanf:"max_attempts"`

	// BufferSize is the in-process pipeline channel depth.
	BufferSize int `koanf:"buffer_size"`

	// BreakerFailureThreshold consecutive forwarding failures open the
	// circuit breaker protecting the arm store.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the breaker stays open before
	// probing again.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`

	// CompactionInterval is how often confirmed WAL entries are purged.
	CompactionInterval time.Duration `koanf:"compaction_interval"`
}

// APIConfig holds API behavior configuration.
type APIConfig struct {
	// DefaultLimit and MaxLimit bound top-N report queries.
	DefaultLimit int `koanf:"default_limit"`
	MaxLimit     int `koanf:"max_limit"`

	// RateLimitReqs requests per RateLimitWindow are allowed on the
	// tracking endpoints per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists allowed origins.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
