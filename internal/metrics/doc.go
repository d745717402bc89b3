// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

/*
Package metrics provides Prometheus metrics collection and export.

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8460/metrics

# Available Metrics

Assignment metrics:
  - experiment_assignments_total: Assignments served (counter)
    Labels: placement, outcome (assigned, sticky, excluded, fallback)
  - experiment_assignment_duration_seconds: Resolution latency (histogram)

Event metrics:
  - experiment_events_ingested_total: Accepted events (counter)
    Labels: event_type
  - experiment_events_rejected_total: Rejected events (counter)
    Labels: reason (validation, unknown_experiment, storage)

Bandit metrics:
  - bandit_arm_updates_total: Reward updates applied (counter)
    Labels: algorithm, arm_type
  - bandit_selection_duration_seconds: Candidate ranking latency (histogram)
    Labels: algorithm
  - bandit_arm_resets_total: Arms reset to the uniform prior (counter)

Reward WAL metrics:
  - reward_wal_pending_entries: Unconfirmed WAL entries (gauge)
  - reward_wal_retries_total: Retry attempts by outcome (counter)
  - reward_wal_write_errors_total: WAL append failures (counter)

Database metrics:
  - duckdb_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - duckdb_query_errors_total: Failed queries (counter)
    Labels: operation, table, error_type

API metrics:
  - api_requests_total, api_request_duration_seconds, api_active_requests,
    api_rate_limit_hits_total

All recording functions are safe for concurrent use. Label values are
drawn from fixed sets to keep cardinality bounded; error strings are
truncated to 50 characters before becoming labels.
*/
package metrics
