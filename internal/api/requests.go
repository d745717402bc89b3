// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/stylefeed/experiments/internal/models"
	"github.com/stylefeed/experiments/internal/validation"
)

// AssignRequest resolves a variant for a subject on a placement. Anonymous
// shoppers carry only a session ID; it then doubles as the hashing subject
// so assignments stay sticky for the session.
type AssignRequest struct {
	UserID    string `json:"user_id" validate:"required_without=SessionID,max=256"`
	SessionID string `json:"session_id" validate:"max=256"`
	Placement string `json:"placement" validate:"required,placement"`
}

// SubjectID returns the identity used for deterministic bucketing.
func (req *AssignRequest) SubjectID() string {
	if req.UserID != "" {
		return req.UserID
	}
	return req.SessionID
}

// TrackRequest is the shared payload for the track-* endpoints. The event
// type and name are fixed by the endpoint, not the payload.
type TrackRequest struct {
	UserID       string          `json:"user_id" validate:"max=256"`
	SessionID    string          `json:"session_id" validate:"max=256"`
	ExperimentID int64           `json:"experiment_id" validate:"required,gt=0"`
	VariantID    int64           `json:"variant_id" validate:"required,gt=0"`
	ItemID       string          `json:"item_id" validate:"max=256"`
	BrandID      string          `json:"brand_id" validate:"max=256"`
	Position     int             `json:"position" validate:"gte=0"`
	ModuleID     string          `json:"module_id" validate:"max=128"`
	Value        float64         `json:"value" validate:"gte=0"`
	Metadata     json.RawMessage `json:"metadata"`
}

// Event converts the payload into a domain event. Type and Name are left
// for the recorder to stamp per endpoint.
func (req *TrackRequest) Event() models.Event {
	return models.Event{
		SubjectID:    req.UserID,
		SessionID:    req.SessionID,
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		ItemID:       req.ItemID,
		BrandID:      req.BrandID,
		Position:     req.Position,
		ModuleID:     req.ModuleID,
		Value:        req.Value,
		Payload:      req.Metadata,
	}
}

// VariantRequest describes one variant on creation.
type VariantRequest struct {
	Name          string          `json:"name" validate:"required,max=128"`
	Description   string          `json:"description" validate:"max=1024"`
	TrafficWeight float64         `json:"traffic_weight" validate:"gte=0"`
	IsControl     bool            `json:"is_control"`
	Config        json.RawMessage `json:"config"`
}

// Variant converts the payload into a domain variant.
func (req *VariantRequest) Variant(experimentID int64) (*models.Variant, error) {
	v := &models.Variant{
		ExperimentID:  experimentID,
		Name:          req.Name,
		Description:   req.Description,
		TrafficWeight: req.TrafficWeight,
		IsControl:     req.IsControl,
	}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &v.Config); err != nil {
			return nil, fmt.Errorf("malformed variant config: %w", err)
		}
	}
	return v, nil
}

// CreateExperimentRequest creates a draft experiment, optionally with its
// variants inline.
type CreateExperimentRequest struct {
	Name              string           `json:"name" validate:"required,max=128"`
	Description       string           `json:"description" validate:"max=1024"`
	ExperimentType    string           `json:"experiment_type" validate:"max=64"`
	Target            string           `json:"target" validate:"required,max=128"`
	TrafficAllocation float64          `json:"traffic_allocation" validate:"gte=0,lte=100"`
	PrimaryMetric     string           `json:"primary_metric" validate:"max=64"`
	SecondaryMetrics  []string         `json:"secondary_metrics" validate:"dive,max=64"`
	Config            json.RawMessage  `json:"config"`
	CreatedBy         string           `json:"created_by" validate:"max=128"`
	Variants          []VariantRequest `json:"variants" validate:"dive"`
}

// Experiment converts the payload into a domain experiment.
func (req *CreateExperimentRequest) Experiment() *models.Experiment {
	return &models.Experiment{
		Name:              req.Name,
		Description:       req.Description,
		ExperimentType:    req.ExperimentType,
		Target:            req.Target,
		TrafficAllocation: req.TrafficAllocation,
		PrimaryMetric:     req.PrimaryMetric,
		SecondaryMetrics:  req.SecondaryMetrics,
		Config:            req.Config,
		CreatedBy:         req.CreatedBy,
	}
}

// DeclareWinnerRequest attaches a winner to a non-draft experiment.
type DeclareWinnerRequest struct {
	VariantID    int64   `json:"variant_id" validate:"required,gt=0"`
	Significance float64 `json:"significance" validate:"gte=0,lte=100"`
}

// CandidateRequest is one orderable content unit offered to the optimizer.
type CandidateRequest struct {
	ID       string            `json:"id" validate:"required,max=256"`
	Name     string            `json:"name" validate:"max=256"`
	Metadata map[string]string `json:"metadata"`
}

// OptimizeRequest ranks a candidate list with the bandit engine. Algorithm
// and its knobs default to the variant/engine configuration when omitted.
type OptimizeRequest struct {
	ArmType    string             `json:"arm_type" validate:"omitempty,arm_type"`
	Candidates []CandidateRequest `json:"candidates" validate:"required,min=1,max=500,dive"`
	Algorithm  string             `json:"algorithm" validate:"omitempty,bandit_algorithm"`
	Epsilon    float64            `json:"epsilon" validate:"gte=0,lte=1"`
	C          float64            `json:"c" validate:"gte=0"`
}

// decodeAndValidate parses the request body into dst and runs struct
// validation. The error is suitable for a 400 response body.
func decodeAndValidate(r *http.Request, dst any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		return verr
	}
	return nil
}

// validationDetails extracts the per-field detail payload for the error
// envelope. Non-validation errors (malformed JSON) carry no details.
func validationDetails(err error) interface{} {
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	return verr.ToAPIError().Details
}
