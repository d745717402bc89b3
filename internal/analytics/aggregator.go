// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package analytics derives experiment reports from the raw aggregation
// rows produced by the database package: per-variant rates, lift against
// the control, two-proportion significance tests, and the position,
// time-series, and top-content report families. All counting happens in
// SQL; this package owns the derived math so zero-denominator behavior is
// unit-testable without a database.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/experiment"
	"github.com/stylefeed/experiments/internal/models"
)

// DefaultLiftMetric is compared when the caller does not name a metric.
const DefaultLiftMetric = "add_to_cart_rate"

const reportTopLimit = 10

// Store is the aggregation surface the analytics layer reads from.
// Implemented by *database.DB.
type Store interface {
	AggregateVariantCounts(ctx context.Context, experimentID int64, tr database.TimeRange) ([]database.VariantCounts, error)
	AggregatePositionCounts(ctx context.Context, experimentID int64, tr database.TimeRange) ([]database.PositionCounts, error)
	AggregateTimeSeries(ctx context.Context, experimentID int64, granularity string, tr database.TimeRange) ([]models.TimeSeriesPoint, error)
	AggregateContentCounts(ctx context.Context, experimentID int64, keyColumn string, limit int, tr database.TimeRange) ([]database.ContentCounts, error)
}

// Aggregator computes experiment reports on demand. Reports are always
// recomputed from the full event log; nothing here is cached or mutated.
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over the store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// CalculateMetrics returns per-variant counts and derived rates for the
// experiment, control first. Every rate is exactly 0 when its denominator
// is 0.
func (a *Aggregator) CalculateMetrics(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.VariantMetrics, error) {
	counts, err := a.store.AggregateVariantCounts(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}

	out := make([]models.VariantMetrics, 0, len(counts))
	for _, c := range counts {
		out = append(out, deriveMetrics(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsControl != out[j].IsControl {
			return out[i].IsControl
		}
		return out[i].VariantName < out[j].VariantName
	})
	return out, nil
}

func deriveMetrics(c database.VariantCounts) models.VariantMetrics {
	m := models.VariantMetrics{
		VariantID:      c.VariantID,
		VariantName:    c.VariantName,
		IsControl:      c.IsControl,
		Impressions:    c.Impressions,
		Clicks:         c.Clicks,
		AddToCarts:     c.AddToCarts,
		Purchases:      c.Purchases,
		TotalRevenue:   c.TotalRevenue,
		UniqueUsers:    c.UniqueUsers,
		UniqueSessions: c.UniqueSessions,
	}
	m.ClickThroughRate = ratePercent(c.Clicks, c.Impressions)
	m.AddToCartRate = ratePercent(c.AddToCarts, c.Clicks)
	m.ImpressionToCartRate = ratePercent(c.AddToCarts, c.Impressions)
	m.CartToPurchaseRate = ratePercent(c.Purchases, c.AddToCarts)
	m.RevenuePerUser = perUnit(c.TotalRevenue, c.UniqueUsers)
	m.RevenuePerSession = perUnit(c.TotalRevenue, c.UniqueSessions)
	return m
}

// CalculateLift compares every variant's metric against the control's.
// The experiment must have exactly one control variant. A control value of
// 0 yields a relative lift of 0: with a zero baseline the ratio is
// undefined and reporting 0 is the documented convention.
func (a *Aggregator) CalculateLift(ctx context.Context, experimentID int64, metric string, tr database.TimeRange) ([]models.LiftResult, error) {
	if metric == "" {
		metric = DefaultLiftMetric
	}

	metricsRows, err := a.CalculateMetrics(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}

	control, err := findControl(metricsRows)
	if err != nil {
		return nil, err
	}
	controlValue, ok := control.MetricValue(metric)
	if !ok {
		return nil, fmt.Errorf("%w: unknown lift metric %q", experiment.ErrValidation, metric)
	}

	out := make([]models.LiftResult, 0, len(metricsRows))
	for _, m := range metricsRows {
		value, _ := m.MetricValue(metric)
		absolute := value - controlValue
		var relative float64
		if controlValue > 0 {
			relative = absolute / controlValue * 100
		}
		out = append(out, models.LiftResult{
			VariantID:           m.VariantID,
			VariantName:         m.VariantName,
			IsControl:           m.IsControl,
			Metric:              metric,
			ControlValue:        controlValue,
			VariantValue:        value,
			AbsoluteLift:        round(absolute, 2),
			RelativeLiftPercent: round(relative, 2),
		})
	}
	return out, nil
}

// CalculateSignificance tests one treatment's add-to-cart conversion against
// the control's.
func (a *Aggregator) CalculateSignificance(control, treatment models.VariantMetrics) (*models.SignificanceResult, error) {
	result, err := TwoProportionZTest(control.AddToCarts, control.Impressions, treatment.AddToCarts, treatment.Impressions)
	if err != nil {
		return nil, err
	}
	result.VariantName = treatment.VariantName
	return result, nil
}

// SignificanceTests runs the z-test for every treatment against the control.
// Treatments without impressions are reported as errors by the underlying
// test, so callers see a failure rather than a silently skipped variant.
func (a *Aggregator) SignificanceTests(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.SignificanceResult, error) {
	metricsRows, err := a.CalculateMetrics(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}

	control, err := findControl(metricsRows)
	if err != nil {
		return nil, err
	}

	var out []models.SignificanceResult
	for _, m := range metricsRows {
		if m.IsControl {
			continue
		}
		result, err := a.CalculateSignificance(*control, m)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", m.VariantName, err)
		}
		out = append(out, *result)
	}
	return out, nil
}

// PositionAnalysis aggregates events by list position with derived rates.
func (a *Aggregator) PositionAnalysis(ctx context.Context, experimentID int64, tr database.TimeRange) ([]models.PositionStats, error) {
	counts, err := a.store.AggregatePositionCounts(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}

	out := make([]models.PositionStats, 0, len(counts))
	for _, c := range counts {
		out = append(out, models.PositionStats{
			Position:         c.Position,
			Impressions:      c.Impressions,
			Clicks:           c.Clicks,
			AddToCarts:       c.AddToCarts,
			ClickThroughRate: ratePercent(c.Clicks, c.Impressions),
			AddToCartRate:    ratePercent(c.AddToCarts, c.Clicks),
		})
	}
	return out, nil
}

// TimeSeries buckets events per (granularity bucket, variant).
// Granularity must be hour, day, or week.
func (a *Aggregator) TimeSeries(ctx context.Context, experimentID int64, granularity string, tr database.TimeRange) ([]models.TimeSeriesPoint, error) {
	if granularity == "" {
		granularity = "day"
	}
	return a.store.AggregateTimeSeries(ctx, experimentID, granularity, tr)
}

// TopItems returns the best-performing items by clicks.
func (a *Aggregator) TopItems(ctx context.Context, experimentID int64, limit int, tr database.TimeRange) ([]models.ContentStats, error) {
	return a.topContent(ctx, experimentID, "item_id", limit, tr)
}

// TopBrands returns the best-performing brands by clicks.
func (a *Aggregator) TopBrands(ctx context.Context, experimentID int64, limit int, tr database.TimeRange) ([]models.ContentStats, error) {
	return a.topContent(ctx, experimentID, "brand_id", limit, tr)
}

func (a *Aggregator) topContent(ctx context.Context, experimentID int64, keyColumn string, limit int, tr database.TimeRange) ([]models.ContentStats, error) {
	counts, err := a.store.AggregateContentCounts(ctx, experimentID, keyColumn, limit, tr)
	if err != nil {
		return nil, err
	}

	out := make([]models.ContentStats, 0, len(counts))
	for _, c := range counts {
		out = append(out, models.ContentStats{
			ID:             c.ID,
			Impressions:    c.Impressions,
			Clicks:         c.Clicks,
			AddToCarts:     c.AddToCarts,
			ConversionRate: ratePercent(c.AddToCarts, c.Impressions),
		})
	}
	return out, nil
}

// ExperimentReport bundles every report family for one experiment: metrics,
// lift on the primary metric, per-treatment significance, position analysis,
// and the top items and brands.
func (a *Aggregator) ExperimentReport(ctx context.Context, experimentID int64, tr database.TimeRange) (*models.ExperimentReport, error) {
	metricsRows, err := a.CalculateMetrics(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}
	lift, err := a.CalculateLift(ctx, experimentID, DefaultLiftMetric, tr)
	if err != nil {
		return nil, err
	}
	// Unlike SignificanceTests, the bundled report tolerates treatments
	// that have not collected impressions yet and simply omits their test.
	control, err := findControl(metricsRows)
	if err != nil {
		return nil, err
	}
	var significance []models.SignificanceResult
	for _, m := range metricsRows {
		if m.IsControl {
			continue
		}
		result, err := a.CalculateSignificance(*control, m)
		if err != nil {
			continue
		}
		significance = append(significance, *result)
	}
	positions, err := a.PositionAnalysis(ctx, experimentID, tr)
	if err != nil {
		return nil, err
	}
	topItems, err := a.TopItems(ctx, experimentID, reportTopLimit, tr)
	if err != nil {
		return nil, err
	}
	topBrands, err := a.TopBrands(ctx, experimentID, reportTopLimit, tr)
	if err != nil {
		return nil, err
	}

	return &models.ExperimentReport{
		ExperimentID: experimentID,
		Metrics:      metricsRows,
		Lift:         lift,
		Significance: significance,
		Positions:    positions,
		TopItems:     topItems,
		TopBrands:    topBrands,
	}, nil
}

func findControl(rows []models.VariantMetrics) (*models.VariantMetrics, error) {
	var control *models.VariantMetrics
	for i := range rows {
		if !rows[i].IsControl {
			continue
		}
		if control != nil {
			return nil, fmt.Errorf("%w: multiple control variants", experiment.ErrInvalidConfiguration)
		}
		control = &rows[i]
	}
	if control == nil {
		return nil, fmt.Errorf("%w: no control variant", experiment.ErrInvalidConfiguration)
	}
	return control, nil
}

func ratePercent(numerator, denominator int64) float64 {
	if denominator <= 0 {
		return 0
	}
	return round(float64(numerator)/float64(denominator)*100, 2)
}

func perUnit(total float64, units int64) float64 {
	if units <= 0 {
		return 0
	}
	return round(total/float64(units), 2)
}
