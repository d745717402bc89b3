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

	"github.com/goccy/go-json"

	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// EnsureArm creates an arm at the uniform prior Beta(1,1) if it does not
// exist, then returns the current row. The natural key is
// (experiment_id, arm_type, arm_id); concurrent ensures converge on one row
// via ON CONFLICT DO NOTHING.
func (db *DB) EnsureArm(ctx context.Context, experimentID int64, armType models.ArmType, armID, armName string, metadata map[string]string) (*models.BanditArm, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var meta interface{}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal arm metadata: %w", err)
		}
		meta = string(b)
	}

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO bandit_arms (experiment_id, arm_type, arm_id, arm_name, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		experimentID, string(armType), armID, nullIfEmpty(armName), meta)
	metrics.RecordDBQuery("INSERT", "bandit_arms", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure arm: %w", err)
	}

	return db.GetArm(ctx, experimentID, armType, armID)
}

// GetArm fetches one arm by natural key.
func (db *DB) GetArm(ctx context.Context, experimentID int64, armType models.ArmType, armID string) (*models.BanditArm, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, armColumnsQuery+`
		WHERE experiment_id = ? AND arm_type = ? AND arm_id = ?`,
		experimentID, string(armType), armID)

	arm, err := scanArm(row)
	metrics.RecordDBQuery("SELECT", "bandit_arms", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch arm: %w", err)
	}
	return arm, nil
}

// GetArmByID fetches one arm by its row ID.
func (db *DB) GetArmByID(ctx context.Context, id int64) (*models.BanditArm, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, armColumnsQuery+" WHERE id = ?", id)

	arm, err := scanArm(row)
	metrics.RecordDBQuery("SELECT", "bandit_arms", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch arm: %w", err)
	}
	return arm, nil
}

// GetArms returns all arms of one (experiment, type) pool in creation order.
func (db *DB) GetArms(ctx context.Context, experimentID int64, armType models.ArmType) ([]models.BanditArm, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, armColumnsQuery+`
		WHERE experiment_id = ? AND arm_type = ?
		ORDER BY id`, experimentID, string(armType))
	metrics.RecordDBQuery("SELECT", "bandit_arms", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list arms: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.BanditArm
	for rows.Next() {
		arm, err := scanArm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan arm: %w", err)
		}
		out = append(out, *arm)
	}
	return out, rows.Err()
}

// ApplyReward applies one reward observation to an arm as a single UPDATE
// statement, so concurrent updates never lose pulls: the pull count, reward
// total, recomputed average, and Beta parameters all move together.
func (db *DB) ApplyReward(ctx context.Context, armRowID int64, reward float64, success bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	alphaInc, betaInc := 0.0, 1.0
	if success {
		alphaInc, betaInc = 1.0, 0.0
	}

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE bandit_arms SET
			total_pulls = total_pulls + 1,
			total_reward = total_reward + ?,
			average_reward = (total_reward + ?) / (total_pulls + 1),
			alpha = alpha + ?,
			beta = beta + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		reward, reward, alphaInc, betaInc, armRowID)
	metrics.RecordDBQuery("UPDATE", "bandit_arms", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to apply reward: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetArm returns an arm to the uniform prior: zero pulls and reward,
// alpha = beta = 1.
func (db *DB) ResetArm(ctx context.Context, armRowID int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE bandit_arms SET
			total_pulls = 0,
			total_reward = 0,
			average_reward = 0,
			alpha = 1,
			beta = 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, armRowID)
	metrics.RecordDBQuery("UPDATE", "bandit_arms", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to reset arm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	metrics.ArmResets.Inc()
	return nil
}

// UpsertPositionPerformance accumulates one event into the daily
// per-position row, recomputing the derived rates in the same statement.
func (db *DB) UpsertPositionPerformance(ctx context.Context, experimentID int64, position int, day time.Time, eventType models.EventType, value float64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	impression, click, conversion := 0, 0, 0
	switch eventType {
	case models.EventImpression:
		impression = 1
	case models.EventClick:
		click = 1
	case models.EventConversion:
		conversion = 1
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}

	date := day.UTC().Format("2006-01-02")

	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO position_performance (experiment_id, position, date,
			impressions, clicks, conversions, total_value,
			click_through_rate, conversion_rate, average_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0)
		ON CONFLICT (experiment_id, position, date) DO UPDATE SET
			impressions = position_performance.impressions + excluded.impressions,
			clicks = position_performance.clicks + excluded.clicks,
			conversions = position_performance.conversions + excluded.conversions,
			total_value = position_performance.total_value + excluded.total_value,
			click_through_rate = CASE
				WHEN position_performance.impressions + excluded.impressions > 0
				THEN CAST(position_performance.clicks + excluded.clicks AS DOUBLE)
					/ (position_performance.impressions + excluded.impressions)
				ELSE 0 END,
			conversion_rate = CASE
				WHEN position_performance.impressions + excluded.impressions > 0
				THEN CAST(position_performance.conversions + excluded.conversions AS DOUBLE)
					/ (position_performance.impressions + excluded.impressions)
				ELSE 0 END,
			average_value = CASE
				WHEN position_performance.conversions + excluded.conversions > 0
				THEN (position_performance.total_value + excluded.total_value)
					/ (position_performance.conversions + excluded.conversions)
				ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP`,
		experimentID, position, date, impression, click, conversion, value)
	metrics.RecordDBQuery("UPSERT", "position_performance", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert position performance: %w", err)
	}
	return nil
}

const armColumnsQuery = `
	SELECT id, experiment_id, arm_type, arm_id, arm_name, metadata,
		total_pulls, total_reward, average_reward, alpha, beta,
		created_at, updated_at
	FROM bandit_arms`

func scanArm(s scanner) (*models.BanditArm, error) {
	var (
		arm     models.BanditArm
		armType string
		name    sql.NullString
		meta    sql.NullString
	)

	err := s.Scan(&arm.ID, &arm.ExperimentID, &armType, &arm.ArmID, &name,
		&meta, &arm.TotalPulls, &arm.TotalReward, &arm.AverageReward,
		&arm.Alpha, &arm.Beta, &arm.CreatedAt, &arm.UpdatedAt)
	if err != nil {
		return nil, err
	}

	arm.ArmType = models.ArmType(armType)
	arm.ArmName = name.String
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &arm.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for arm %d: %w", arm.ID, err)
		}
	}

	return &arm, nil
}
