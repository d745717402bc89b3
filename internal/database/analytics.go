// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

/*
analytics.go - Event Log Aggregation Queries

Raw aggregation over the append-only event log. Counting happens here in
SQL (FILTER clauses over one scan); derived rates and statistics live in
the analytics package so their zero-denominator behavior is testable
without a database.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// TimeRange bounds an aggregation window. Zero values mean unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// VariantCounts is the raw per-variant aggregation row. Rates are derived
// downstream.
type VariantCounts struct {
	VariantID      int64
	VariantName    string
	IsControl      bool
	Impressions    int64
	Clicks         int64
	AddToCarts     int64
	Purchases      int64
	TotalRevenue   float64
	UniqueUsers    int64
	UniqueSessions int64
}

// AggregateVariantCounts aggregates the event log per variant in a single
// scan. Variants with no events in range still appear with zero counts.
func (db *DB) AggregateVariantCounts(ctx context.Context, experimentID int64, tr TimeRange) ([]VariantCounts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	joinCond := "e.variant_id = v.id AND e.experiment_id = v.experiment_id"
	args := []interface{}{}
	if !tr.Start.IsZero() {
		joinCond += " AND e.created_at >= ?"
		args = append(args, tr.Start.UTC())
	}
	if !tr.End.IsZero() {
		joinCond += " AND e.created_at < ?"
		args = append(args, tr.End.UTC())
	}
	args = append(args, experimentID)

	query := fmt.Sprintf(`
		SELECT v.id, v.name, v.is_control,
			COUNT(e.id) FILTER (WHERE e.event_type = 'impression') AS impressions,
			COUNT(e.id) FILTER (WHERE e.event_type = 'click') AS clicks,
			COUNT(e.id) FILTER (WHERE e.event_name = 'add_to_cart') AS add_to_carts,
			COUNT(e.id) FILTER (WHERE e.event_name = 'purchase') AS purchases,
			COALESCE(SUM(e.value) FILTER (WHERE e.event_name = 'purchase'), 0) AS revenue,
			COUNT(DISTINCT e.user_id) AS unique_users,
			COUNT(DISTINCT e.session_id) AS unique_sessions
		FROM experiment_variants v
		LEFT JOIN experiment_events e ON %s
		WHERE v.experiment_id = ?
		GROUP BY v.id, v.name, v.is_control
		ORDER BY v.id`, joinCond)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "experiment_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate variant counts: %w", err)
	}
	defer closeQuietly(rows)

	var out []VariantCounts
	for rows.Next() {
		var c VariantCounts
		if err := rows.Scan(&c.VariantID, &c.VariantName, &c.IsControl,
			&c.Impressions, &c.Clicks, &c.AddToCarts, &c.Purchases,
			&c.TotalRevenue, &c.UniqueUsers, &c.UniqueSessions); err != nil {
			return nil, fmt.Errorf("failed to scan variant counts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PositionCounts is the raw per-position aggregation row.
type PositionCounts struct {
	Position    int
	Impressions int64
	Clicks      int64
	AddToCarts  int64
}

// AggregatePositionCounts aggregates events that carry a list position.
// Position 0 means "not positional" and is excluded.
func (db *DB) AggregatePositionCounts(ctx context.Context, experimentID int64, tr TimeRange) ([]PositionCounts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := "experiment_id = ? AND position IS NOT NULL AND position > 0"
	args := []interface{}{experimentID}
	where, args = appendRange(where, args, tr)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT position,
			COUNT(*) FILTER (WHERE event_type = 'impression') AS impressions,
			COUNT(*) FILTER (WHERE event_type = 'click') AS clicks,
			COUNT(*) FILTER (WHERE event_name = 'add_to_cart') AS add_to_carts
		FROM experiment_events
		WHERE `+where+`
		GROUP BY position
		ORDER BY position`, args...)
	metrics.RecordDBQuery("SELECT", "experiment_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate position counts: %w", err)
	}
	defer closeQuietly(rows)

	var out []PositionCounts
	for rows.Next() {
		var c PositionCounts
		if err := rows.Scan(&c.Position, &c.Impressions, &c.Clicks, &c.AddToCarts); err != nil {
			return nil, fmt.Errorf("failed to scan position counts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AggregateTimeSeries buckets events per (time bucket, variant).
// Granularity must be hour, day, or week.
func (db *DB) AggregateTimeSeries(ctx context.Context, experimentID int64, granularity string, tr TimeRange) ([]models.TimeSeriesPoint, error) {
	switch granularity {
	case "hour", "day", "week":
	default:
		return nil, fmt.Errorf("unsupported granularity %q", granularity)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := "experiment_id = ?"
	args := []interface{}{experimentID}
	where, args = appendRange(where, args, tr)

	// granularity is validated above; it is safe to interpolate.
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', created_at) AS bucket, variant_id,
			COUNT(*) FILTER (WHERE event_type = 'impression') AS impressions,
			COUNT(*) FILTER (WHERE event_type = 'click') AS clicks,
			COUNT(*) FILTER (WHERE event_name = 'add_to_cart') AS add_to_carts,
			COUNT(*) FILTER (WHERE event_name = 'purchase') AS purchases,
			COALESCE(SUM(value) FILTER (WHERE event_name = 'purchase'), 0) AS revenue
		FROM experiment_events
		WHERE %s
		GROUP BY bucket, variant_id
		ORDER BY bucket, variant_id`, granularity, where)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "experiment_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate time series: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.TimeSeriesPoint
	for rows.Next() {
		var p models.TimeSeriesPoint
		if err := rows.Scan(&p.Bucket, &p.VariantID, &p.Impressions,
			&p.Clicks, &p.AddToCarts, &p.Purchases, &p.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan time series point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ContentCounts is the raw per-item or per-brand aggregation row.
type ContentCounts struct {
	ID          string
	Impressions int64
	Clicks      int64
	AddToCarts  int64
}

// AggregateContentCounts aggregates events by item_id or brand_id, ordered
// by clicks descending, bounded by limit.
func (db *DB) AggregateContentCounts(ctx context.Context, experimentID int64, keyColumn string, limit int, tr TimeRange) ([]ContentCounts, error) {
	switch keyColumn {
	case "item_id", "brand_id":
	default:
		return nil, fmt.Errorf("unsupported content key %q", keyColumn)
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where := fmt.Sprintf("experiment_id = ? AND %s IS NOT NULL AND %s != ''", keyColumn, keyColumn)
	args := []interface{}{experimentID}
	where, args = appendRange(where, args, tr)
	args = append(args, limit)

	// keyColumn is validated above; it is safe to interpolate.
	query := fmt.Sprintf(`
		SELECT %s,
			COUNT(*) FILTER (WHERE event_type = 'impression') AS impressions,
			COUNT(*) FILTER (WHERE event_type = 'click') AS clicks,
			COUNT(*) FILTER (WHERE event_name = 'add_to_cart') AS add_to_carts
		FROM experiment_events
		WHERE %s
		GROUP BY %s
		ORDER BY clicks DESC, impressions DESC
		LIMIT ?`, keyColumn, where, keyColumn)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "experiment_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate content counts: %w", err)
	}
	defer closeQuietly(rows)

	var out []ContentCounts
	for rows.Next() {
		var c ContentCounts
		if err := rows.Scan(&c.ID, &c.Impressions, &c.Clicks, &c.AddToCarts); err != nil {
			return nil, fmt.Errorf("failed to scan content counts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func appendRange(where string, args []interface{}, tr TimeRange) (string, []interface{}) {
	if !tr.Start.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, tr.Start.UTC())
	}
	if !tr.End.IsZero() {
		where += " AND created_at < ?"
		args = append(args, tr.End.UTC())
	}
	return where, args
}
