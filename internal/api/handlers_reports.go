// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stylefeed/experiments/internal/bandit"
	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/models"
)

const defaultTopLimit = 10

// timeRangeFromQuery parses the optional from/to query parameters. Both
// RFC 3339 timestamps and plain dates are accepted; a plain "to" date is
// inclusive of that day.
func timeRangeFromQuery(r *http.Request) (database.TimeRange, error) {
	var tr database.TimeRange

	parse := func(raw string, endOfDay bool) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("must be RFC 3339 or YYYY-MM-DD, got %q", raw)
		}
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := parse(raw, false)
		if err != nil {
			return tr, fmt.Errorf("invalid from: %w", err)
		}
		tr.Start = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := parse(raw, true)
		if err != nil {
			return tr, fmt.Errorf("invalid to: %w", err)
		}
		tr.End = t
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return tr, fmt.Errorf("to precedes from")
	}
	return tr, nil
}

// limitFromQuery parses the optional limit parameter, bounded to [1, 100].
func limitFromQuery(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultTopLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 100 {
		return 0, fmt.Errorf("limit must be an integer in [1, 100]")
	}
	return limit, nil
}

// report is the shared shape of the per-experiment GET report handlers:
// parse {id} and the time range, run the aggregation, respond.
func (h *Handler) report(w http.ResponseWriter, r *http.Request, run func(id int64, tr database.TimeRange) (interface{}, error)) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}
	tr, err := timeRangeFromQuery(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	data, err := run(id, tr)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(data)
}

// Metrics returns the per-variant funnel metrics.
//
// Method: GET
// Path: /api/v1/experiments/{id}/metrics
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.CalculateMetrics(r.Context(), id, tr)
	})
}

// Lift returns per-treatment lift over control for one metric
// (?metric=..., default add_to_cart_rate).
//
// Method: GET
// Path: /api/v1/experiments/{id}/lift
func (h *Handler) Lift(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.CalculateLift(r.Context(), id, metric, tr)
	})
}

// Significance returns the two-proportion z-test of each treatment against
// control on the add-to-cart rate.
//
// Method: GET
// Path: /api/v1/experiments/{id}/significance
func (h *Handler) Significance(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.SignificanceTests(r.Context(), id, tr)
	})
}

// Positions returns engagement broken down by display position.
//
// Method: GET
// Path: /api/v1/experiments/{id}/positions
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.PositionAnalysis(r.Context(), id, tr)
	})
}

// TimeSeries returns per-variant event counts bucketed by hour, day, or
// week (?granularity=..., default day).
//
// Method: GET
// Path: /api/v1/experiments/{id}/timeseries
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	granularity := r.URL.Query().Get("granularity")
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.TimeSeries(r.Context(), id, granularity, tr)
	})
}

// TopItems returns the best-engaging items (?limit=..., default 10).
//
// Method: GET
// Path: /api/v1/experiments/{id}/top-items
func (h *Handler) TopItems(w http.ResponseWriter, r *http.Request) {
	limit, err := limitFromQuery(r)
	if err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.TopItems(r.Context(), id, limit, tr)
	})
}

// TopBrands returns the best-engaging brands (?limit=..., default 10).
//
// Method: GET
// Path: /api/v1/experiments/{id}/top-brands
func (h *Handler) TopBrands(w http.ResponseWriter, r *http.Request) {
	limit, err := limitFromQuery(r)
	if err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return
	}
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.TopBrands(r.Context(), id, limit, tr)
	})
}

// Report returns the full experiment report bundle.
//
// Method: GET
// Path: /api/v1/experiments/{id}/report
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, func(id int64, tr database.TimeRange) (interface{}, error) {
		return h.reports.ExperimentReport(r.Context(), id, tr)
	})
}

// Optimize ranks a candidate list with the bandit engine.
//
// Method: POST
// Path: /api/v1/experiments/{id}/optimize
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	var req OptimizeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	armType := models.ArmType(req.ArmType)
	if armType == "" {
		armType = models.ArmTypeItem
	}

	candidates := make([]models.Candidate, len(req.Candidates))
	for i, c := range req.Candidates {
		candidates[i] = models.Candidate{
			ID:       c.ID,
			Name:     c.Name,
			Metadata: c.Metadata,
		}
	}

	ranked, err := h.optimizer.OptimizeOrdering(r.Context(), id, armType, candidates, bandit.Options{
		Algorithm:   req.Algorithm,
		Epsilon:     req.Epsilon,
		UCBConstant: req.C,
	})
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(ranked)
}

// ArmPerformance returns the bandit arm statistics for one experiment and
// arm type (?arm_type=..., default item).
//
// Method: GET
// Path: /api/v1/experiments/{id}/arms
func (h *Handler) ArmPerformance(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	armType := models.ArmType(r.URL.Query().Get("arm_type"))
	switch armType {
	case "":
		armType = models.ArmTypeItem
	case models.ArmTypeItem, models.ArmTypeBrand, models.ArmTypePosition:
	default:
		rw.BadRequest("arm_type must be item, brand, or position")
		return
	}

	arms, err := h.optimizer.ArmPerformance(r.Context(), id, armType)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(arms)
}
