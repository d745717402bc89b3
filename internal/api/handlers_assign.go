// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"net/http"

	"github.com/stylefeed/experiments/internal/models"
)

// Assign resolves the variant for a subject on a placement.
//
// Method: POST
// Path: /api/v1/experiments/assign
//
// A subject outside any experiment (no running experiment on the placement,
// or excluded by traffic allocation) receives the sentinel resolution with
// the default variant; that is a 200, not an error. Configuration defects
// on the matched experiment surface as 422.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req AssignRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	res, err := h.assigner.Resolve(r.Context(), req.SubjectID(), req.SessionID, req.Placement)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(res)
}

// trackAck is the body every tracking endpoint returns.
type trackAck struct {
	Accepted bool `json:"accepted"`
}

// track decodes the shared tracking payload and hands the event to the
// recorder via dispatch. Tracking is fire-and-forget: once the payload
// parses, the response is 200 regardless of downstream outcome; the
// recorder logs and counts anything it drops.
func (h *Handler) track(w http.ResponseWriter, r *http.Request, dispatch func(models.Event)) {
	rw := NewResponseWriter(w, r)

	var req TrackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	dispatch(req.Event())
	rw.Success(trackAck{Accepted: true})
}

// TrackImpression records an item impression.
//
// Method: POST
// Path: /api/v1/experiments/track-impression
func (h *Handler) TrackImpression(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, func(ev models.Event) {
		h.recorder.TrackImpression(r.Context(), ev)
	})
}

// TrackClick records an item click.
//
// Method: POST
// Path: /api/v1/experiments/track-click
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, func(ev models.Event) {
		h.recorder.TrackClick(r.Context(), ev)
	})
}

// TrackAddToCart records an add-to-cart conversion.
//
// Method: POST
// Path: /api/v1/experiments/track-add-to-cart
func (h *Handler) TrackAddToCart(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, func(ev models.Event) {
		h.recorder.TrackAddToCart(r.Context(), ev)
	})
}

// TrackPurchase records a purchase conversion. Value carries the order
// total for revenue aggregation.
//
// Method: POST
// Path: /api/v1/experiments/track-purchase
func (h *Handler) TrackPurchase(w http.ResponseWriter, r *http.Request) {
	h.track(w, r, func(ev models.Event) {
		h.recorder.TrackPurchase(r.Context(), ev)
	})
}
