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

// ErrNotFound is returned when a lookup matches no row. Callers translate it
// into their own error taxonomy at the boundary.
var ErrNotFound = errors.New("not found")

// CreateExperiment inserts a new experiment and fills in its generated ID
// and timestamps. Status is stored as given; lifecycle rules live in the
// registry, not here.
func (db *DB) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	secondary, err := json.Marshal(exp.SecondaryMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal secondary metrics: %w", err)
	}

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO experiments (name, description, experiment_type, target,
			traffic_allocation, primary_metric, secondary_metrics, config,
			status, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at, updated_at`,
		exp.Name, exp.Description, exp.ExperimentType, exp.Target,
		exp.TrafficAllocation, exp.PrimaryMetric, string(secondary),
		rawOrNull(exp.Config), string(exp.Status), exp.CreatedBy)

	err = row.Scan(&exp.ID, &exp.CreatedAt, &exp.UpdatedAt)
	metrics.RecordDBQuery("INSERT", "experiments", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

// CreateVariant inserts a variant for an experiment and fills in its
// generated ID and creation time.
func (db *DB) CreateVariant(ctx context.Context, v *models.Variant) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cfg, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal variant config: %w", err)
	}

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO experiment_variants (experiment_id, name, description,
			traffic_weight, config, is_control)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		v.ExperimentID, v.Name, v.Description, v.TrafficWeight,
		string(cfg), v.IsControl)

	err = row.Scan(&v.ID, &v.CreatedAt)
	metrics.RecordDBQuery("INSERT", "experiment_variants", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

const experimentColumns = `id, name, description, experiment_type, target,
	traffic_allocation, primary_metric, secondary_metrics, config, status,
	winner_variant_id, statistical_significance, start_date, end_date,
	created_by, created_at, updated_at`

// GetExperiment fetches one experiment by ID. Returns ErrNotFound when the
// ID matches no row.
func (db *DB) GetExperiment(ctx context.Context, id int64) (*models.Experiment, error) {
	return db.getExperimentWhere(ctx, "id = ?", id)
}

// GetExperimentByName fetches one experiment by its unique name.
func (db *DB) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	return db.getExperimentWhere(ctx, "name = ?", name)
}

func (db *DB) getExperimentWhere(ctx context.Context, where string, arg interface{}) (*models.Experiment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+experimentColumns+" FROM experiments WHERE "+where, arg)

	exp, err := scanExperiment(row)
	metrics.RecordDBQuery("SELECT", "experiments", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch experiment: %w", err)
	}
	return exp, nil
}

// ListExperiments returns experiments, optionally filtered by status,
// ordered by ID.
func (db *DB) ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := "SELECT " + experimentColumns + " FROM experiments"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "experiments", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, *exp)
	}
	return out, rows.Err()
}

// FindRunningByTargets returns running experiments whose target is in the
// given list, ordered by ID so callers can apply a deterministic tie-break.
func (db *DB) FindRunningByTargets(ctx context.Context, targets []string) ([]models.Experiment, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := ""
	args := make([]interface{}, 0, len(targets))
	for i, t := range targets {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, t)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+experimentColumns+` FROM experiments
		 WHERE status = 'running' AND target IN (`+placeholders+`)
		 ORDER BY id`, args...)
	metrics.RecordDBQuery("SELECT", "experiments", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query running experiments: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, *exp)
	}
	return out, rows.Err()
}

// UpdateExperimentStatus sets the lifecycle status and optionally stamps the
// start or end date. Passing nil leaves a date untouched.
func (db *DB) UpdateExperimentStatus(ctx context.Context, id int64, status models.ExperimentStatus, startDate, endDate *time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := "UPDATE experiments SET status = ?, updated_at = CURRENT_TIMESTAMP"
	args := []interface{}{string(status)}
	if startDate != nil {
		query += ", start_date = ?"
		args = append(args, *startDate)
	}
	if endDate != nil {
		query += ", end_date = ?"
		args = append(args, *endDate)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery("UPDATE", "experiments", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWinner attaches a winning variant and its significance level and
// forces the experiment into the completed state.
func (db *DB) SetWinner(ctx context.Context, id, variantID int64, significance float64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE experiments
		SET winner_variant_id = ?, statistical_significance = ?,
			status = 'completed',
			end_date = COALESCE(end_date, CURRENT_TIMESTAMP),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		variantID, significance, id)
	metrics.RecordDBQuery("UPDATE", "experiments", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetVariants returns all variants of an experiment in creation order.
func (db *DB) GetVariants(ctx context.Context, experimentID int64) ([]models.Variant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, experiment_id, name, description, traffic_weight, config,
			is_control, created_at
		FROM experiment_variants
		WHERE experiment_id = ?
		ORDER BY id`, experimentID)
	metrics.RecordDBQuery("SELECT", "experiment_variants", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// GetVariant fetches one variant by ID.
func (db *DB) GetVariant(ctx context.Context, id int64) (*models.Variant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, experiment_id, name, description, traffic_weight, config,
			is_control, created_at
		FROM experiment_variants
		WHERE id = ?`, id)

	v, err := scanVariant(row)
	metrics.RecordDBQuery("SELECT", "experiment_variants", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch variant: %w", err)
	}
	return v, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(s scanner) (*models.Experiment, error) {
	var (
		exp          models.Experiment
		description  sql.NullString
		expType      sql.NullString
		primary      sql.NullString
		secondary    sql.NullString
		config       sql.NullString
		status       string
		winner       sql.NullInt64
		significance sql.NullFloat64
		startDate    sql.NullTime
		endDate      sql.NullTime
		createdBy    sql.NullString
	)

	err := s.Scan(&exp.ID, &exp.Name, &description, &expType, &exp.Target,
		&exp.TrafficAllocation, &primary, &secondary, &config, &status,
		&winner, &significance, &startDate, &endDate, &createdBy,
		&exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return nil, err
	}

	exp.Description = description.String
	exp.ExperimentType = expType.String
	exp.PrimaryMetric = primary.String
	exp.Status = models.ExperimentStatus(status)
	exp.CreatedBy = createdBy.String

	if secondary.Valid && secondary.String != "" && secondary.String != "null" {
		if err := json.Unmarshal([]byte(secondary.String), &exp.SecondaryMetrics); err != nil {
			return nil, fmt.Errorf("corrupt secondary_metrics for experiment %d: %w", exp.ID, err)
		}
	}
	if config.Valid && config.String != "" {
		exp.Config = json.RawMessage(config.String)
	}
	if winner.Valid {
		exp.WinnerVariantID = &winner.Int64
	}
	if significance.Valid {
		exp.StatisticalSignificance = &significance.Float64
	}
	if startDate.Valid {
		t := startDate.Time
		exp.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		exp.EndDate = &t
	}

	return &exp, nil
}

func scanVariant(s scanner) (*models.Variant, error) {
	var (
		v           models.Variant
		description sql.NullString
		config      sql.NullString
	)

	err := s.Scan(&v.ID, &v.ExperimentID, &v.Name, &description,
		&v.TrafficWeight, &config, &v.IsControl, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	v.Description = description.String
	if config.Valid && config.String != "" && config.String != "null" {
		if err := json.Unmarshal([]byte(config.String), &v.Config); err != nil {
			return nil, fmt.Errorf("corrupt config for variant %d: %w", v.ID, err)
		}
	}

	return &v, nil
}

// rawOrNull converts an optional raw JSON payload to a driver value.
func rawOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
