// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stylefeed/experiments/internal/bandit"
	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/models"
)

// Assigner resolves which variant a subject sees on a placement.
// Implemented by *experiment.AssignmentService.
type Assigner interface {
	Resolve(ctx context.Context, subjectID, sessionID, placement string) (models.Resolution, error)
}

// Recorder accepts tracked events. Implementations never fail the caller.
// Implemented by *tracking.EventRecorder.
type Recorder interface {
	TrackImpression(ctx context.Context, ev models.Event)
	TrackClick(ctx context.Context, ev models.Event)
	TrackAddToCart(ctx context.Context, ev models.Event)
	TrackPurchase(ctx context.Context, ev models.Event)
}

// Admin covers the experiment lifecycle. Implemented by *experiment.Registry.
type Admin interface {
	Create(ctx context.Context, exp *models.Experiment) error
	AddVariant(ctx context.Context, v *models.Variant) error
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	DeclareWinner(ctx context.Context, id, variantID int64, significance float64) error
	GetByID(ctx context.Context, id int64) (*models.Experiment, error)
	Variants(ctx context.Context, experimentID int64) ([]models.Variant, error)
}

// Reporter covers the read-side aggregations. Implemented by
// *analytics.Aggregator.
type Reporter interface {
	CalculateMetrics(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.VariantMetrics, error)
	CalculateLift(ctx context.Context, experimentID int64, metric string, tr database.TimeRange) ([]models.LiftResult, error)
	SignificanceTests(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.SignificanceResult, error)
	PositionAnalysis(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.PositionStats, error)
	TimeSeries(ctx context.Context, experimentID int64, granularity string, tr database.TimeRange) ([]models.TimeSeriesPoint, error)
	TopItems(ctx context.Context, experimentID int64, limit int, tr database.TimeRange) ([]models.ContentStats, error)
	TopBrands(ctx context.Context, experimentID int64, limit int, tr database.TimeRange) ([]models.ContentStats, error)
	ExperimentReport(ctx context.Context, experimentID int64, tr database.TimeRange) (*models.ExperimentReport, error)
}

// Optimizer ranks candidate content. Implemented by *bandit.Engine.
type Optimizer interface {
	OptimizeOrdering(ctx context.Context, experimentID int64, armType models.ArmType, candidates []models.Candidate, opts bandit.Options) ([]models.RankedCandidate, error)
	ArmPerformance(ctx context.Context, experimentID int64, armType models.ArmType) ([]models.BanditArm, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the service dependencies for all HTTP handlers.
type Handler struct {
	assigner  Assigner
	recorder  Recorder
	admin     Admin
	reports   Reporter
	optimizer Optimizer
	db        Pinger
}

// NewHandler creates the handler set. All dependencies are required except
// db, which may be nil (health then only reports process liveness).
func NewHandler(assigner Assigner, recorder Recorder, admin Admin, reports Reporter, optimizer Optimizer, db Pinger) *Handler {
	return &Handler{
		assigner:  assigner,
		recorder:  recorder,
		admin:     admin,
		reports:   reports,
		optimizer: optimizer,
		db:        db,
	}
}

// Health reports liveness and storage reachability.
//
// Method: GET
// Path: /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := map[string]string{"status": "ok"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Meta: rw.meta()})
			return
		}
		status["database"] = "ok"
	}
	rw.Success(status)
}

// experimentID extracts and parses the {id} path parameter. Returns false
// after writing a 400 when the parameter is not a positive integer.
func experimentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		NewResponseWriter(w, r).BadRequest("experiment id must be a positive integer")
		return 0, false
	}
	return id, true
}
