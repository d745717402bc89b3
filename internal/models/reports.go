// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package models

import "time"

// VariantMetrics is the per-variant aggregation of the event log. All rates
// are percentages and are exactly 0 when their denominator is 0.
type VariantMetrics struct {
	VariantID   int64  `json:"variant_id"`
	VariantName string `json:"variant_name"`
	IsControl   bool   `json:"is_control"`

	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	AddToCarts     int64   `json:"add_to_carts"`
	Purchases      int64   `json:"purchases"`
	TotalRevenue   float64 `json:"total_revenue"`
	UniqueUsers    int64   `json:"unique_users"`
	UniqueSessions int64   `json:"unique_sessions"`

	ClickThroughRate     float64 `json:"click_through_rate"`
	AddToCartRate        float64 `json:"add_to_cart_rate"`
	ImpressionToCartRate float64 `json:"impression_to_cart_rate"`
	CartToPurchaseRate   float64 `json:"cart_to_purchase_rate"`
	RevenuePerUser       float64 `json:"revenue_per_user"`
	RevenuePerSession    float64 `json:"revenue_per_session"`
}

// MetricValue returns the named derived metric. The bool is false for
// unknown metric names.
func (m *VariantMetrics) MetricValue(metric string) (float64, bool) {
	switch metric {
	case "click_through_rate":
		return m.ClickThroughRate, true
	case "add_to_cart_rate":
		return m.AddToCartRate, true
	case "impression_to_cart_rate":
		return m.ImpressionToCartRate, true
	case "cart_to_purchase_rate":
		return m.CartToPurchaseRate, true
	case "revenue_per_user":
		return m.RevenuePerUser, true
	case "revenue_per_session":
		return m.RevenuePerSession, true
	default:
		return 0, false
	}
}

// LiftResult compares one variant's metric against the control's.
// RelativeLiftPercent is 0 when the control value is 0; callers needing to
// distinguish "no lift" from "undefined baseline" must check ControlValue.
type LiftResult struct {
	VariantID           int64   `json:"variant_id"`
	VariantName         string  `json:"variant_name"`
	IsControl           bool    `json:"is_control"`
	Metric              string  `json:"metric"`
	ControlValue        float64 `json:"control_value"`
	VariantValue        float64 `json:"variant_value"`
	AbsoluteLift        float64 `json:"absolute_lift"`
	RelativeLiftPercent float64 `json:"relative_lift_percent"`
}

// SignificanceResult is the outcome of a two-proportion z-test between a
// control and a treatment variant.
type SignificanceResult struct {
	VariantName       string  `json:"variant_name,omitempty"`
	ZScore            float64 `json:"z_score"`
	PValue            float64 `json:"p_value"`
	ConfidencePercent float64 `json:"confidence_percent"`
	IsSignificant     bool    `json:"is_significant"`
	TreatmentBetter   bool    `json:"treatment_better"`
}

// PositionStats aggregates events by list position.
type PositionStats struct {
	Position         int     `json:"position"`
	Impressions      int64   `json:"impressions"`
	Clicks           int64   `json:"clicks"`
	AddToCarts       int64   `json:"add_to_carts"`
	ClickThroughRate float64 `json:"click_through_rate"`
	AddToCartRate    float64 `json:"add_to_cart_rate"`
}

// TimeSeriesPoint is one (bucket, variant) cell of the experiment time series.
type TimeSeriesPoint struct {
	Bucket      time.Time `json:"time_bucket"`
	VariantID   int64     `json:"variant_id"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	AddToCarts  int64     `json:"add_to_carts"`
	Purchases   int64     `json:"purchases"`
	Revenue     float64   `json:"revenue"`
}

// ContentStats aggregates events by item or brand identifier.
type ContentStats struct {
	ID             string  `json:"id"`
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	AddToCarts     int64   `json:"add_to_carts"`
	ConversionRate float64 `json:"conversion_rate"`
}

// ExperimentReport bundles every report family for one experiment.
type ExperimentReport struct {
	ExperimentID int64                `json:"experiment_id"`
	Metrics      []VariantMetrics     `json:"metrics"`
	Lift         []LiftResult         `json:"lift"`
	Significance []SignificanceResult `json:"significance_tests"`
	Positions    []PositionStats      `json:"position_analysis"`
	TopItems     []ContentStats       `json:"top_items"`
	TopBrands    []ContentStats       `json:"top_brands"`
}

// Resolution is the answer to "which variant should this request see".
// A sentinel resolution has ExperimentRef == "" and empty params; absence of
// an experiment is a normal outcome, not an error.
type Resolution struct {
	ExperimentRef string        `json:"experiment_id"` // experiment name; "" = none
	ExperimentID  int64         `json:"-"`
	VariantID     int64         `json:"-"`
	Variant       string        `json:"variant"`
	Params        VariantConfig `json:"params"`
}

// InExperiment reports whether the resolution carries a real assignment.
func (r *Resolution) InExperiment() bool {
	return r.ExperimentRef != ""
}
