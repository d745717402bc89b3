// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package config

import (
	"fmt"
)

// validAlgorithms are the accepted bandit.default_algorithm values.
var validAlgorithms = map[string]bool{
	"thompson": true,
	"ucb":      true,
	"epsilon":  true,
}

// Validate checks the configuration for invalid or inconsistent values.
// It is called by Load() after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}

	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must be >= 0, got %d", c.Database.Threads)
	}

	if !validAlgorithms[c.Bandit.DefaultAlgorithm] {
		return fmt.Errorf("bandit.default_algorithm must be thompson, ucb, or epsilon, got %q", c.Bandit.DefaultAlgorithm)
	}
	if c.Bandit.Epsilon < 0 || c.Bandit.Epsilon > 1 {
		return fmt.Errorf("bandit.epsilon must be in [0,1], got %f", c.Bandit.Epsilon)
	}
	if c.Bandit.UCBConstant < 0 {
		return fmt.Errorf("bandit.ucb_constant must be >= 0, got %f", c.Bandit.UCBConstant)
	}
	if c.Bandit.ClickReward < 0 || c.Bandit.ConversionReward < 0 {
		return fmt.Errorf("bandit rewards must be >= 0")
	}

	if c.Tracking.RetryInterval <= 0 {
		return fmt.Errorf("tracking.retry_interval must be positive, got %v", c.Tracking.RetryInterval)
	}
	if c.Tracking.BufferSize <= 0 {
		return fmt.Errorf("tracking.buffer_size must be positive, got %d", c.Tracking.BufferSize)
	}
	if c.Tracking.RetryRatePerSecond < 0 {
		return fmt.Errorf("tracking.retry_rate_per_second must be >= 0, got %f", c.Tracking.RetryRatePerSecond)
	}

	if c.API.DefaultLimit < 1 {
		return fmt.Errorf("api.default_limit must be >= 1, got %d", c.API.DefaultLimit)
	}
	if c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api.max_limit (%d) must be >= api.default_limit (%d)", c.API.MaxLimit, c.API.DefaultLimit)
	}
	if c.API.RateLimitReqs < 1 {
		return fmt.Errorf("api.rate_limit_reqs must be >= 1, got %d", c.API.RateLimitReqs)
	}

	if c.Experiments.DefaultVariant == "" {
		return fmt.Errorf("experiments.default_variant must not be empty")
	}

	return nil
}
