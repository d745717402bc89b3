// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

/*
schema.go - Database Schema Management

Tables:
  - experiments: operator-owned experiment configuration and lifecycle state
  - experiment_variants: treatment groups with relative traffic weights
  - user_experiment_assignments: immutable (user, experiment) -> variant facts
  - experiment_events: append-only analytics event log
  - bandit_arms: derived arm statistics keyed by (experiment, arm_type, arm_id)
  - position_performance: daily per-position accumulator

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. Row ids come
from sequences because DuckDB has no auto-increment column type.

Index Strategy:
Indexes cover the hot query paths: running-experiment lookups by target,
event aggregation by (experiment, type, time), and arm selection by
(experiment, arm_type).
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates sequences, tables, and indexes.
func (db *DB) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaStatements() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

func schemaStatements() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_experiment_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_variant_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_event_id START 1`,
		`CREATE SEQUENCE IF NOT EXISTS seq_arm_id START 1`,

		`CREATE TABLE IF NOT EXISTS experiments (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_experiment_id'),
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			experiment_type TEXT,
			target TEXT NOT NULL,
			traffic_allocation DOUBLE NOT NULL DEFAULT 100,
			primary_metric TEXT,
			secondary_metrics JSON,
			config JSON,
			status TEXT NOT NULL DEFAULT 'draft',
			winner_variant_id BIGINT,
			statistical_significance DOUBLE,
			start_date TIMESTAMP,
			end_date TIMESTAMP,
			created_by TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS experiment_variants (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_variant_id'),
			experiment_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			traffic_weight DOUBLE NOT NULL DEFAULT 1,
			config JSON,
			is_control BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (experiment_id, name)
		)`,

		// First writer wins: inserts use ON CONFLICT DO NOTHING and
		// callers re-read the surviving row.
		`CREATE TABLE IF NOT EXISTS user_experiment_assignments (
			user_id TEXT NOT NULL,
			experiment_id BIGINT NOT NULL,
			variant_id BIGINT NOT NULL,
			session_id TEXT,
			assigned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, experiment_id)
		)`,

		// Append-only. Rows are never updated or deleted.
		`CREATE TABLE IF NOT EXISTS experiment_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_event_id'),
			user_id TEXT,
			session_id TEXT,
			experiment_id BIGINT NOT NULL,
			variant_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			event_name TEXT NOT NULL,
			item_id TEXT,
			brand_id TEXT,
			position INTEGER,
			module_id TEXT,
			event_data JSON,
			value DOUBLE NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bandit_arms (
			id BIGINT PRIMARY KEY DEFAULT nextval('seq_arm_id'),
			experiment_id BIGINT NOT NULL,
			arm_type TEXT NOT NULL,
			arm_id TEXT NOT NULL,
			arm_name TEXT,
			metadata JSON,
			total_pulls BIGINT NOT NULL DEFAULT 0,
			total_reward DOUBLE NOT NULL DEFAULT 0,
			average_reward DOUBLE NOT NULL DEFAULT 0,
			alpha DOUBLE NOT NULL DEFAULT 1,
			beta DOUBLE NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (experiment_id, arm_type, arm_id)
		)`,

		`CREATE TABLE IF NOT EXISTS position_performance (
			experiment_id BIGINT NOT NULL,
			position INTEGER NOT NULL,
			date DATE NOT NULL,
			impressions BIGINT NOT NULL DEFAULT 0,
			clicks BIGINT NOT NULL DEFAULT 0,
			conversions BIGINT NOT NULL DEFAULT 0,
			total_value DOUBLE NOT NULL DEFAULT 0,
			click_through_rate DOUBLE NOT NULL DEFAULT 0,
			conversion_rate DOUBLE NOT NULL DEFAULT 0,
			average_value DOUBLE NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (experiment_id, position, date)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_experiments_status_target
			ON experiments (status, target)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_experiment
			ON experiment_variants (experiment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_experiment_type
			ON experiment_events (experiment_id, event_type, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_item
			ON experiment_events (experiment_id, item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_arms_experiment_type
			ON bandit_arms (experiment_id, arm_type)`,
	}
}
