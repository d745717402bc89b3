// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// InsertEvent appends one event to the log and fills in the generated ID
// and creation time. The event log is append-only; there is no update or
// delete path.
func (db *DB) InsertEvent(ctx context.Context, ev *models.Event) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO experiment_events (user_id, session_id, experiment_id,
			variant_id, event_type, event_name, item_id, brand_id, position,
			module_id, event_data, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		nullIfEmpty(ev.SubjectID), nullIfEmpty(ev.SessionID),
		ev.ExperimentID, ev.VariantID, string(ev.Type), ev.Name,
		nullIfEmpty(ev.ItemID), nullIfEmpty(ev.BrandID), ev.Position,
		nullIfEmpty(ev.ModuleID), rawOrNull(ev.Payload), ev.Value)

	err := row.Scan(&ev.ID, &ev.CreatedAt)
	metrics.RecordDBQuery("INSERT", "experiment_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountEvents returns per-type event counts for an experiment.
func (db *DB) CountEvents(ctx context.Context, experimentID int64) (map[models.EventType]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM experiment_events
		WHERE experiment_id = ?
		GROUP BY event_type`, experimentID)
	metrics.RecordDBQuery("SELECT", "experiment_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer closeQuietly(rows)

	counts := make(map[models.EventType]int64)
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventType(t)] = n
	}
	return counts, rows.Err()
}
