// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// ExposureSink receives the impression emitted on a successful assignment
// resolution. Implementations must never block the assignment path.
type ExposureSink interface {
	TrackImpression(ctx context.Context, ev models.Event)
}

// AssignmentService resolves "which variant should this request see".
// Resolution is deterministic per subject via the hash assigner; stickiness
// comes from the stored assignment, which always wins over the hash so
// subjects keep their variant even if weights are later edited.
type AssignmentService struct {
	store          Store
	registry       *Registry
	defaultVariant string
	exposure       ExposureSink

	// trafficDraw returns a uniform draw over [0, 1). Swapped in tests.
	trafficDraw func() float64
}

// NewAssignmentService creates an assignment service. exposure may be nil
// to disable exposure impressions.
func NewAssignmentService(store Store, registry *Registry, defaultVariant string, exposure ExposureSink) *AssignmentService {
	if defaultVariant == "" {
		defaultVariant = "default"
	}
	return &AssignmentService{
		store:          store,
		registry:       registry,
		defaultVariant: defaultVariant,
		exposure:       exposure,
		trafficDraw:    rand.Float64,
	}
}

// sentinel is the "not in any experiment" resolution. Absence is a normal
// outcome, not an error.
func (s *AssignmentService) sentinel() models.Resolution {
	return models.Resolution{Variant: s.defaultVariant}
}

// Resolve picks the variant for a subject on a placement.
//
// The traffic-allocation draw is independent of the variant hash and is not
// persisted: an excluded subject gets a fresh draw on its next resolution.
// Once a subject is included, the assignment is written with
// first-writer-wins semantics; concurrent first resolutions converge on the
// stored row. Configuration errors (no variants, bad weights) propagate to
// the caller.
func (s *AssignmentService) Resolve(ctx context.Context, subjectID, sessionID, placement string) (models.Resolution, error) {
	start := time.Now()

	exp, err := s.registry.FindForPlacement(ctx, placement)
	if err != nil {
		return models.Resolution{}, err
	}
	if exp == nil {
		metrics.RecordAssignment(placement, "fallback", time.Since(start))
		return s.sentinel(), nil
	}

	// Stickiness: a stored assignment always wins.
	if stored, err := s.store.GetAssignment(ctx, subjectID, exp.ID); err == nil {
		res, err := s.resolutionFor(ctx, exp, stored.VariantID)
		if err != nil {
			return models.Resolution{}, err
		}
		s.recordExposure(ctx, subjectID, sessionID, exp.ID, stored.VariantID)
		metrics.RecordAssignment(placement, "sticky", time.Since(start))
		return res, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return models.Resolution{}, fmt.Errorf("failed to read assignment: %w", err)
	}

	if s.trafficDraw()*100 >= exp.TrafficAllocation {
		metrics.RecordAssignment(placement, "excluded", time.Since(start))
		return s.sentinel(), nil
	}

	variants, err := s.store.GetVariants(ctx, exp.ID)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to list variants: %w", err)
	}

	variant, err := Assign(SubjectKey(subjectID, exp.ID), variants)
	if err != nil {
		return models.Resolution{}, err
	}

	stored, err := s.store.SaveAssignment(ctx, &models.Assignment{
		SubjectID:    subjectID,
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		SessionID:    sessionID,
	})
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to persist assignment: %w", err)
	}

	res, err := s.resolutionFor(ctx, exp, stored.VariantID)
	if err != nil {
		return models.Resolution{}, err
	}

	s.recordExposure(ctx, subjectID, sessionID, exp.ID, stored.VariantID)
	metrics.RecordAssignment(placement, "assigned", time.Since(start))

	logging.Ctx(ctx).Debug().
		Str("subject_id", subjectID).
		Int64("experiment_id", exp.ID).
		Str("variant", res.Variant).
		Msg("assignment resolved")
	return res, nil
}

// resolutionFor builds the resolution payload for a stored variant ID.
func (s *AssignmentService) resolutionFor(ctx context.Context, exp *models.Experiment, variantID int64) (models.Resolution, error) {
	variant, err := s.store.GetVariant(ctx, variantID)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to fetch variant %d: %w", variantID, err)
	}
	return models.Resolution{
		ExperimentRef: exp.Name,
		ExperimentID:  exp.ID,
		VariantID:     variant.ID,
		Variant:       variant.Name,
		Params:        variant.Config,
	}, nil
}

func (s *AssignmentService) recordExposure(ctx context.Context, subjectID, sessionID string, experimentID, variantID int64) {
	if s.exposure == nil {
		return
	}
	s.exposure.TrackImpression(ctx, models.Event{
		SubjectID:    subjectID,
		SessionID:    sessionID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		Type:         models.EventImpression,
		Name:         models.EventNameImpression,
	})
}
