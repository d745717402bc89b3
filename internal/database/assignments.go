// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// GetAssignment fetches the stored assignment for a (subject, experiment)
// pair. Returns ErrNotFound when the subject has never been assigned.
func (db *DB) GetAssignment(ctx context.Context, subjectID string, experimentID int64) (*models.Assignment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		a       models.Assignment
		session sql.NullString
	)

	start := time.Now()
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, experiment_id, variant_id, session_id, assigned_at
		FROM user_experiment_assignments
		WHERE user_id = ? AND experiment_id = ?`,
		subjectID, experimentID).
		Scan(&a.SubjectID, &a.ExperimentID, &a.VariantID, &session, &a.AssignedAt)
	metrics.RecordDBQuery("SELECT", "user_experiment_assignments", time.Since(start), err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignment: %w", err)
	}
	a.SessionID = session.String
	return &a, nil
}

// SaveAssignment persists an assignment with first-writer-wins semantics:
// the insert ignores conflicts on the (user_id, experiment_id) primary key
// and the surviving row is re-read, so concurrent first resolutions for the
// same subject converge on whichever write landed first.
func (db *DB) SaveAssignment(ctx context.Context, a *models.Assignment) (*models.Assignment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_experiment_assignments
			(user_id, experiment_id, variant_id, session_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.SubjectID, a.ExperimentID, a.VariantID, nullIfEmpty(a.SessionID))
	metrics.RecordDBQuery("INSERT", "user_experiment_assignments", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	return db.GetAssignment(ctx, a.SubjectID, a.ExperimentID)
}

// CountAssignments returns the number of subjects assigned to an experiment.
func (db *DB) CountAssignments(ctx context.Context, experimentID int64) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	start := time.Now()
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_experiment_assignments WHERE experiment_id = ?",
		experimentID).Scan(&n)
	metrics.RecordDBQuery("SELECT", "user_experiment_assignments", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
