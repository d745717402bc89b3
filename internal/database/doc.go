// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package database provides the DuckDB persistence layer: experiment and
// variant configuration, immutable subject assignments, the append-only
// event log, bandit arm statistics, and the raw aggregation queries the
// analytics package builds reports from.
//
// Concurrency guarantees live in SQL, not in Go locks: assignments insert
// with ON CONFLICT DO NOTHING and re-read (first writer wins), and arm
// reward updates are single UPDATE statements so no pull is ever lost.
package database
