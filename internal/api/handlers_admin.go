// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"context"
	"net/http"
)

// CreateExperiment creates a draft experiment, optionally with inline
// variants.
//
// Method: POST
// Path: /api/v1/admin/experiments
//
// Variant creation happens after the experiment row exists; a variant
// failure (duplicate control, bad config) leaves the experiment in draft
// with the variants created so far, and the error is surfaced so the
// operator can fix and retry the remaining variants individually.
func (h *Handler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req CreateExperimentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	exp := req.Experiment()
	if err := h.admin.Create(r.Context(), exp); err != nil {
		rw.DomainError(err)
		return
	}

	for i := range req.Variants {
		v, err := req.Variants[i].Variant(exp.ID)
		if err != nil {
			rw.BadRequest(err.Error())
			return
		}
		if err := h.admin.AddVariant(r.Context(), v); err != nil {
			rw.DomainError(err)
			return
		}
	}

	created, err := h.admin.GetByID(r.Context(), exp.ID)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Created(created)
}

// AddVariant attaches a variant to a draft experiment.
//
// Method: POST
// Path: /api/v1/admin/experiments/{id}/variants
func (h *Handler) AddVariant(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	var req VariantRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	v, err := req.Variant(id)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if err := h.admin.AddVariant(r.Context(), v); err != nil {
		rw.DomainError(err)
		return
	}
	rw.Created(v)
}

// GetExperiment returns one experiment with its variants.
//
// Method: GET
// Path: /api/v1/admin/experiments/{id}
func (h *Handler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	exp, err := h.admin.GetByID(r.Context(), id)
	if err != nil {
		rw.DomainError(err)
		return
	}
	variants, err := h.admin.Variants(r.Context(), id)
	if err != nil {
		rw.DomainError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"experiment": exp,
		"variants":   variants,
	})
}

// StartExperiment transitions draft -> running.
//
// Method: POST
// Path: /api/v1/admin/experiments/{id}/start
func (h *Handler) StartExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.admin.Start)
}

// StopExperiment transitions running -> completed.
//
// Method: POST
// Path: /api/v1/admin/experiments/{id}/stop
func (h *Handler) StopExperiment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.admin.Stop)
}

// lifecycle runs a state transition and responds with the updated
// experiment.
func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id int64) error) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	if err := transition(r.Context(), id); err != nil {
		rw.DomainError(err)
		return
	}

	exp, err := h.admin.GetByID(r.Context(), id)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(exp)
}

// DeclareWinner attaches a winning variant and its significance to a
// non-draft experiment.
//
// Method: POST
// Path: /api/v1/admin/experiments/{id}/declare-winner
func (h *Handler) DeclareWinner(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	var req DeclareWinnerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	if err := h.admin.DeclareWinner(r.Context(), id, req.VariantID, req.Significance); err != nil {
		rw.DomainError(err)
		return
	}

	exp, err := h.admin.GetByID(r.Context(), id)
	if err != nil {
		rw.DomainError(err)
		return
	}
	rw.Success(exp)
}
