// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package api exposes the experimentation engine over HTTP using the Chi
// router. All endpoints respond with a standardized success/error envelope.
//
// The surface splits into four groups:
//
//   - Assignment and tracking (POST /api/v1/experiments/assign, track-*):
//     the hot path, rate-limited permissively. Tracking endpoints always
//     acknowledge well-formed payloads; event validation failures are
//     logged and counted, never surfaced to the shopper-facing caller.
//
//   - Admin lifecycle (POST /api/v1/admin/experiments, start/stop/
//     declare-winner): operator endpoints with strict write rate limits.
//     Domain errors map to 404/409/422/400.
//
//   - Reports (GET /api/v1/experiments/{id}/metrics, lift, significance,
//     positions, timeseries, top-items, top-brands, report) and
//     POST /{id}/optimize.
//
//   - Operational: GET /healthz, GET /metrics (Prometheus).
package api
