// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package models defines the domain types shared across the experimentation
// engine: experiments, variants, assignments, events, bandit arms, and the
// report row types produced by the analytics aggregator.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	// StatusDraft accepts new variants and is not eligible for assignment.
	StatusDraft ExperimentStatus = "draft"
	// StatusRunning is eligible for assignment and event attribution.
	StatusRunning ExperimentStatus = "running"
	// StatusCompleted is terminal; a winner may be attached.
	StatusCompleted ExperimentStatus = "completed"
)

// EventType classifies tracked events.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
)

// Well-known event names. Add-to-cart and purchase are both conversion-class
// events distinguished by name.
const (
	EventNameImpression = "item_impression"
	EventNameClick      = "item_click"
	EventNameAddToCart  = "add_to_cart"
	EventNamePurchase   = "purchase"
)

// ArmType distinguishes the bandit arm pools tracked per experiment.
type ArmType string

const (
	ArmTypeItem     ArmType = "item"
	ArmTypeBrand    ArmType = "brand"
	ArmTypePosition ArmType = "position"
)

// Experiment is long-lived operator-owned configuration. It is mutated only
// through the registry's explicit state transitions.
type Experiment struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	ExperimentType    string           `json:"experiment_type,omitempty"`
	Target            string           `json:"target"`
	TrafficAllocation float64          `json:"traffic_allocation"`
	PrimaryMetric     string           `json:"primary_metric,omitempty"`
	SecondaryMetrics  []string         `json:"secondary_metrics,omitempty"`
	Config            json.RawMessage  `json:"config,omitempty"`
	Status            ExperimentStatus `json:"status"`

	WinnerVariantID         *int64   `json:"winner_variant_id,omitempty"`
	StatisticalSignificance *float64 `json:"statistical_significance,omitempty"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRunning reports whether the experiment is eligible for assignment.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// Variant is one treatment group within an experiment. TrafficWeight is
// relative and unit-less; weights are normalized at assignment time.
type Variant struct {
	ID            int64         `json:"id"`
	ExperimentID  int64         `json:"experiment_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	TrafficWeight float64       `json:"traffic_weight"`
	Config        VariantConfig `json:"config"`
	IsControl     bool          `json:"is_control"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Assignment is the immutable (subject, experiment) -> variant fact.
// Once written it is never updated; re-resolution returns the stored row.
type Assignment struct {
	SubjectID    string    `json:"subject_id"`
	ExperimentID int64     `json:"experiment_id"`
	VariantID    int64     `json:"variant_id"`
	SessionID    string    `json:"session_id,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Event is an append-only analytics fact. Events are never mutated or
// deleted; statistical correctness depends on full history.
type Event struct {
	ID           int64           `json:"id,omitempty"`
	SubjectID    string          `json:"subject_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	ExperimentID int64           `json:"experiment_id"`
	VariantID    int64           `json:"variant_id"`
	Type         EventType       `json:"event_type"`
	Name         string          `json:"event_name"`
	ItemID       string          `json:"item_id,omitempty"`
	BrandID      string          `json:"brand_id,omitempty"`
	Position     int             `json:"position,omitempty"` // 1-based; 0 = not positional
	ModuleID     string          `json:"module_id,omitempty"`
	Payload      json.RawMessage `json:"event_data,omitempty"`
	Value        float64         `json:"value,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Validate checks the structural invariants of an event before it is
// appended. Attribution fields (experiment, variant) must be present;
// everything else is optional context.
func (e *Event) Validate() error {
	switch e.Type {
	case EventImpression, EventClick, EventConversion:
	default:
		return &FieldError{Field: "event_type", Reason: "must be impression, click, or conversion"}
	}
	if e.Name == "" {
		return &FieldError{Field: "event_name", Reason: "must not be empty"}
	}
	if e.ExperimentID <= 0 {
		return &FieldError{Field: "experiment_id", Reason: "must be positive"}
	}
	if e.VariantID <= 0 {
		return &FieldError{Field: "variant_id", Reason: "must be positive"}
	}
	if e.SubjectID == "" && e.SessionID == "" {
		return &FieldError{Field: "subject_id", Reason: "subject_id or session_id required"}
	}
	if e.Position < 0 {
		return &FieldError{Field: "position", Reason: "must be >= 0"}
	}
	if e.Value < 0 {
		return &FieldError{Field: "value", Reason: "must be >= 0"}
	}
	return nil
}

// FieldError describes a single malformed field on an inbound payload.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// BanditArm is derived state keyed by (experiment_id, arm_type, arm_id).
// It is rebuildable in principle from the event log. Alpha and Beta are the
// Beta-distribution parameters used by Thompson Sampling; a fresh arm starts
// at Beta(1,1) (uniform prior).
type BanditArm struct {
	ID           int64             `json:"id"`
	ExperimentID int64             `json:"experiment_id"`
	ArmType      ArmType           `json:"arm_type"`
	ArmID        string            `json:"arm_id"`
	ArmName      string            `json:"arm_name,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	TotalPulls    int64   `json:"total_pulls"`
	TotalReward   float64 `json:"total_reward"`
	AverageReward float64 `json:"average_reward"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpectedWinRate is the Beta-posterior mean alpha/(alpha+beta).
func (a *BanditArm) ExpectedWinRate() float64 {
	total := a.Alpha + a.Beta
	if total <= 0 {
		return 0
	}
	return a.Alpha / total
}

// Candidate is an orderable content unit (item or brand) offered to the
// bandit optimizer by the content-rendering layer.
type Candidate struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RankedCandidate is a candidate with its bandit-assigned rank and the raw
// score produced by the selection algorithm.
type RankedCandidate struct {
	Candidate
	Rank  int     `json:"bandit_rank"` // 1-based
	Score float64 `json:"bandit_score"`
	ArmID int64   `json:"arm_id"`
}
