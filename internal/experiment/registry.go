// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/models"
)

// Store is the persistence surface the experimentation core needs. It is
// satisfied by *database.DB; tests use an in-memory fake.
type Store interface {
	CreateExperiment(ctx context.Context, exp *models.Experiment) error
	CreateVariant(ctx context.Context, v *models.Variant) error
	GetExperiment(ctx context.Context, id int64) (*models.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error)
	ListExperiments(ctx context.Context, status models.ExperimentStatus) ([]models.Experiment, error)
	FindRunningByTargets(ctx context.Context, targets []string) ([]models.Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id int64, status models.ExperimentStatus, startDate, endDate *time.Time) error
	SetWinner(ctx context.Context, id, variantID int64, significance float64) error
	GetVariants(ctx context.Context, experimentID int64) ([]models.Variant, error)
	GetVariant(ctx context.Context, id int64) (*models.Variant, error)
	GetAssignment(ctx context.Context, subjectID string, experimentID int64) (*models.Assignment, error)
	SaveAssignment(ctx context.Context, a *models.Assignment) (*models.Assignment, error)
}

// Generic ordering targets. An experiment created against one of these
// applies to any placement that renders an ordered item list, mirroring how
// the shop client resolves its feed modules.
const (
	TargetNewsfeed     = "newsfeed"
	TargetItemOrdering = "item_ordering"
)

// Registry owns experiment lifecycle: creation, variants, state
// transitions, and running-experiment lookups. All state lives in the
// store; the registry enforces the transition rules.
type Registry struct {
	store Store
}

// NewRegistry creates a registry over a store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Create inserts a new experiment in the draft state. Traffic allocation
// defaults to 100 when unset and must be within [0, 100].
func (r *Registry) Create(ctx context.Context, exp *models.Experiment) error {
	if exp.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if exp.Target == "" {
		return fmt.Errorf("%w: target is required", ErrValidation)
	}
	if exp.TrafficAllocation == 0 {
		exp.TrafficAllocation = 100
	}
	if exp.TrafficAllocation < 0 || exp.TrafficAllocation > 100 {
		return fmt.Errorf("%w: traffic allocation must be within [0, 100]", ErrValidation)
	}

	exp.Status = models.StatusDraft
	if err := r.store.CreateExperiment(ctx, exp); err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	logging.Ctx(ctx).Info().
		Int64("experiment_id", exp.ID).
		Str("name", exp.Name).
		Str("target", exp.Target).
		Msg("experiment created")
	return nil
}

// AddVariant attaches a variant to a draft experiment. Only one control is
// allowed per experiment; adding a variant to a running or completed
// experiment is rejected because it would shift existing buckets.
func (r *Registry) AddVariant(ctx context.Context, v *models.Variant) error {
	if v.Name == "" {
		return fmt.Errorf("%w: variant name is required", ErrValidation)
	}
	if v.TrafficWeight < 0 {
		return fmt.Errorf("%w: negative traffic weight", ErrValidation)
	}
	if v.TrafficWeight == 0 {
		v.TrafficWeight = 1
	}

	exp, err := r.GetByID(ctx, v.ExperimentID)
	if err != nil {
		return err
	}
	if exp.Status != models.StatusDraft {
		return fmt.Errorf("%w: cannot add variants to a %s experiment",
			ErrInvalidStateTransition, exp.Status)
	}

	if v.IsControl {
		existing, err := r.store.GetVariants(ctx, v.ExperimentID)
		if err != nil {
			return fmt.Errorf("failed to list variants: %w", err)
		}
		for _, e := range existing {
			if e.IsControl {
				return fmt.Errorf("%w: experiment %d already has control variant %q",
					ErrInvalidConfiguration, v.ExperimentID, e.Name)
			}
		}
	}

	if err := r.store.CreateVariant(ctx, v); err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	return nil
}

// Start transitions draft -> running and stamps the start date. An
// experiment without variants cannot start.
func (r *Registry) Start(ctx context.Context, id int64) error {
	exp, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status != models.StatusDraft {
		return fmt.Errorf("%w: cannot start a %s experiment",
			ErrInvalidStateTransition, exp.Status)
	}

	variants, err := r.store.GetVariants(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}
	if len(variants) == 0 {
		return ErrNoVariants
	}

	now := time.Now().UTC()
	if err := r.store.UpdateExperimentStatus(ctx, id, models.StatusRunning, &now, nil); err != nil {
		return fmt.Errorf("failed to start experiment: %w", err)
	}

	logging.Ctx(ctx).Info().Int64("experiment_id", id).Msg("experiment started")
	return nil
}

// Stop transitions running -> completed and stamps the end date. Stopping
// an already-completed experiment is a no-op success so that retried stop
// requests are harmless.
func (r *Registry) Stop(ctx context.Context, id int64) error {
	exp, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch exp.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusRunning:
	default:
		return fmt.Errorf("%w: cannot stop a %s experiment",
			ErrInvalidStateTransition, exp.Status)
	}

	now := time.Now().UTC()
	if err := r.store.UpdateExperimentStatus(ctx, id, models.StatusCompleted, nil, &now); err != nil {
		return fmt.Errorf("failed to stop experiment: %w", err)
	}

	logging.Ctx(ctx).Info().Int64("experiment_id", id).Msg("experiment stopped")
	return nil
}

// DeclareWinner attaches a winning variant and significance level to a
// running or completed experiment and forces it into the completed state.
func (r *Registry) DeclareWinner(ctx context.Context, id, variantID int64, significance float64) error {
	exp, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status == models.StatusDraft {
		return fmt.Errorf("%w: cannot declare a winner on a draft experiment",
			ErrInvalidStateTransition)
	}

	variant, err := r.store.GetVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: variant %d", ErrNotFound, variantID)
		}
		return fmt.Errorf("failed to fetch variant: %w", err)
	}
	if variant.ExperimentID != id {
		return fmt.Errorf("%w: variant %d belongs to experiment %d",
			ErrValidation, variantID, variant.ExperimentID)
	}

	if err := r.store.SetWinner(ctx, id, variantID, significance); err != nil {
		return fmt.Errorf("failed to declare winner: %w", err)
	}

	logging.Ctx(ctx).Info().
		Int64("experiment_id", id).
		Int64("variant_id", variantID).
		Float64("significance", significance).
		Msg("winner declared")
	return nil
}

// GetByID fetches one experiment, translating store misses into ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, id int64) (*models.Experiment, error) {
	exp, err := r.store.GetExperiment(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// GetByName fetches one experiment by its unique name.
func (r *Registry) GetByName(ctx context.Context, name string) (*models.Experiment, error) {
	exp, err := r.store.GetExperimentByName(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// GetRunningExperiments lists all running experiments.
func (r *Registry) GetRunningExperiments(ctx context.Context) ([]models.Experiment, error) {
	return r.store.ListExperiments(ctx, models.StatusRunning)
}

// Variants lists the variants of an experiment.
func (r *Registry) Variants(ctx context.Context, experimentID int64) ([]models.Variant, error) {
	if _, err := r.GetByID(ctx, experimentID); err != nil {
		return nil, err
	}
	return r.store.GetVariants(ctx, experimentID)
}

// FindForPlacement picks the running experiment for a placement. Matching
// targets are the placement itself plus the generic ordering targets; when
// several experiments match, the lowest ID wins so the choice is stable
// across processes. Returns nil (no error) when nothing matches.
func (r *Registry) FindForPlacement(ctx context.Context, placement string) (*models.Experiment, error) {
	targets := []string{placement}
	if placement != TargetNewsfeed {
		targets = append(targets, TargetNewsfeed)
	}
	if placement != TargetItemOrdering {
		targets = append(targets, TargetItemOrdering)
	}

	running, err := r.store.FindRunningByTargets(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("failed to find experiments for placement %q: %w", placement, err)
	}
	if len(running) == 0 {
		return nil, nil
	}

	// Store returns rows ordered by ID.
	return &running[0], nil
}
