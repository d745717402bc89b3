// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package tracking implements the fire-and-forget event ingestion boundary.
//
// The EventRecorder appends events to the analytics log and never fails the
// caller: every internal error is logged and counted, and the tracking
// endpoint still returns success. Reward-bearing events (clicks and
// conversions carrying an item or brand reference) additionally produce a
// reward signal for the bandit engine. Signals are written to a durable
// Badger write-ahead log first, then published on the in-process pipeline;
// the forwarder applies them to arm state behind a circuit breaker and
// confirms the WAL entry only after the store update succeeds. A background
// retry loop replays unconfirmed entries with rate limiting, and a compaction
// pass purges confirmed entries.
package tracking
