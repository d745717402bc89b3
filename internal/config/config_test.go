// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if cfg.Bandit.DefaultAlgorithm != "thompson" {
		t.Errorf("default algorithm = %q, want thompson", cfg.Bandit.DefaultAlgorithm)
	}
	if cfg.Experiments.DefaultVariant != "default" {
		t.Errorf("default variant = %q, want default", cfg.Experiments.DefaultVariant)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"server section", "STYLEFEED_SERVER_PORT", "server.port"},
		{"multi-word key", "STYLEFEED_TRACKING_WAL_PATH", "tracking.wal_path"},
		{"bandit section", "STYLEFEED_BANDIT_DEFAULT_ALGORITHM", "bandit.default_algorithm"},
		{"api section", "STYLEFEED_API_CORS_ORIGINS", "api.cors_origins"},
		{"missing app prefix ignored", "SERVER_PORT", ""},
		{"unrecognized section ignored", "STYLEFEED_HOME_DIR", ""},
		{"unrelated variable ignored", "PATH", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := envTransformFunc(tt.key); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("STYLEFEED_SERVER_PORT", "9999")
	t.Setenv("STYLEFEED_BANDIT_EPSILON", "0.25")
	t.Setenv("STYLEFEED_API_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Bandit.Epsilon != 0.25 {
		t.Errorf("Bandit.Epsilon = %f, want 0.25", cfg.Bandit.Epsilon)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[0] != "https://a.example" {
		t.Errorf("API.CORSOrigins = %v, want two trimmed origins", cfg.API.CORSOrigins)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad timeout", func(c *Config) { c.Server.Timeout = -time.Second }},
		{"unknown algorithm", func(c *Config) { c.Bandit.DefaultAlgorithm = "softmax" }},
		{"epsilon out of range", func(c *Config) { c.Bandit.Epsilon = 1.5 }},
		{"negative ucb constant", func(c *Config) { c.Bandit.UCBConstant = -1 }},
		{"zero buffer", func(c *Config) { c.Tracking.BufferSize = 0 }},
		{"max below default limit", func(c *Config) { c.API.MaxLimit = 1 }},
		{"empty default variant", func(c *Config) { c.Experiments.DefaultVariant = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
