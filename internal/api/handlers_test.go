// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/stylefeed/experiments/internal/bandit"
	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/experiment"
	"github.com/stylefeed/experiments/internal/models"
)

// fakeServices implements every handler dependency with configurable
// results, capturing what the handlers pass down.
type fakeServices struct {
	resolution models.Resolution
	resolveErr error

	events []models.Event

	experiments map[int64]*models.Experiment
	variants    []models.Variant
	adminErr    error
	nextID      int64

	metricsRows []models.VariantMetrics
	reportTR    database.TimeRange
	reportErr   error

	ranked      []models.RankedCandidate
	optimizeErr error

	pingErr error
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		experiments: make(map[int64]*models.Experiment),
		nextID:      1,
	}
}

func (f *fakeServices) Resolve(_ context.Context, subjectID, sessionID, placement string) (models.Resolution, error) {
	if f.resolveErr != nil {
		return models.Resolution{}, f.resolveErr
	}
	return f.resolution, nil
}

func (f *fakeServices) TrackImpression(_ context.Context, ev models.Event) {
	ev.Type, ev.Name = models.EventImpression, models.EventNameImpression
	f.events = append(f.events, ev)
}

func (f *fakeServices) TrackClick(_ context.Context, ev models.Event) {
	ev.Type, ev.Name = models.EventClick, models.EventNameClick
	f.events = append(f.events, ev)
}

func (f *fakeServices) TrackAddToCart(_ context.Context, ev models.Event) {
	ev.Type, ev.Name = models.EventConversion, models.EventNameAddToCart
	f.events = append(f.events, ev)
}

func (f *fakeServices) TrackPurchase(_ context.Context, ev models.Event) {
	ev.Type, ev.Name = models.EventConversion, models.EventNamePurchase
	f.events = append(f.events, ev)
}

func (f *fakeServices) Create(_ context.Context, exp *models.Experiment) error {
	if f.adminErr != nil {
		return f.adminErr
	}
	exp.ID = f.nextID
	f.nextID++
	exp.Status = models.StatusDraft
	f.experiments[exp.ID] = exp
	return nil
}

func (f *fakeServices) AddVariant(_ context.Context, v *models.Variant) error {
	if f.adminErr != nil {
		return f.adminErr
	}
	v.ID = f.nextID
	f.nextID++
	f.variants = append(f.variants, *v)
	return nil
}

func (f *fakeServices) Start(_ context.Context, id int64) error {
	if f.adminErr != nil {
		return f.adminErr
	}
	exp, ok := f.experiments[id]
	if !ok {
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	}
	exp.Status = models.StatusRunning
	return nil
}

func (f *fakeServices) Stop(_ context.Context, id int64) error {
	if f.adminErr != nil {
		return f.adminErr
	}
	exp, ok := f.experiments[id]
	if !ok {
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	}
	exp.Status = models.StatusCompleted
	return nil
}

func (f *fakeServices) DeclareWinner(_ context.Context, id, variantID int64, significance float64) error {
	if f.adminErr != nil {
		return f.adminErr
	}
	exp, ok := f.experiments[id]
	if !ok {
		return fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	}
	exp.WinnerVariantID = &variantID
	exp.StatisticalSignificance = &significance
	return nil
}

func (f *fakeServices) GetByID(_ context.Context, id int64) (*models.Experiment, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", experiment.ErrNotFound, id)
	}
	return exp, nil
}

func (f *fakeServices) Variants(_ context.Context, experimentID int64) ([]models.Variant, error) {
	return f.variants, nil
}

func (f *fakeServices) CalculateMetrics(_ context.Context, _ int64, tr database.TimeRange) ([]models.VariantMetrics, error) {
	f.reportTR = tr
	return f.metricsRows, f.reportErr
}

func (f *fakeServices) CalculateLift(_ context.Context, _ int64, _ string, tr database.TimeRange) ([]models.LiftResult, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) SignificanceTests(_ context.Context, _ int64, tr database.TimeRange) ([]models.SignificanceResult, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) PositionAnalysis(_ context.Context, _ int64, tr database.TimeRange) ([]models.PositionStats, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) TimeSeries(_ context.Context, _ int64, _ string, tr database.TimeRange) ([]models.TimeSeriesPoint, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) TopItems(_ context.Context, _ int64, _ int, tr database.TimeRange) ([]models.ContentStats, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) TopBrands(_ context.Context, _ int64, _ int, tr database.TimeRange) ([]models.ContentStats, error) {
	f.reportTR = tr
	return nil, f.reportErr
}

func (f *fakeServices) ExperimentReport(_ context.Context, _ int64, tr database.TimeRange) (*models.ExperimentReport, error) {
	f.reportTR = tr
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return &models.ExperimentReport{}, nil
}

func (f *fakeServices) OptimizeOrdering(_ context.Context, _ int64, _ models.ArmType, candidates []models.Candidate, _ bandit.Options) ([]models.RankedCandidate, error) {
	if f.optimizeErr != nil {
		return nil, f.optimizeErr
	}
	if f.ranked != nil {
		return f.ranked, nil
	}
	ranked := make([]models.RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = models.RankedCandidate{Candidate: c, Rank: i + 1}
	}
	return ranked, nil
}

func (f *fakeServices) ArmPerformance(_ context.Context, _ int64, _ models.ArmType) ([]models.BanditArm, error) {
	return nil, f.optimizeErr
}

func (f *fakeServices) Ping(_ context.Context) error {
	return f.pingErr
}

// newTestRouter builds the full routing stack over the fake, with rate
// limiting disabled.
func newTestRouter(f *fakeServices) http.Handler {
	h := NewHandler(f, f, f, f, f, f)
	m := NewMiddleware(&MiddlewareConfig{RateLimitDisabled: true})
	return NewRouter(h, m).Setup()
}

// envelope mirrors APIResponse with a raw data payload for assertions.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestAssignReturnsResolution(t *testing.T) {
	f := newFakeServices()
	f.resolution = models.Resolution{
		ExperimentRef: "newsfeed_order_test",
		Variant:       "bandit_order",
	}
	router := newTestRouter(f)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/experiments/assign", map[string]string{
		"user_id":   "user_42",
		"placement": "newsfeed",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("success = false: %+v", env.Error)
	}

	var res models.Resolution
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode resolution: %v", err)
	}
	if res.Variant != "bandit_order" {
		t.Errorf("variant = %q, want bandit_order", res.Variant)
	}
	if res.ExperimentRef != "newsfeed_order_test" {
		t.Errorf("experiment ref = %q", res.ExperimentRef)
	}
}

func TestAssignRejectsMissingPlacement(t *testing.T) {
	router := newTestRouter(newFakeServices())

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/experiments/assign", map[string]string{
		"user_id": "user_42",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v, want %s", env.Error, ErrCodeValidationFailed)
	}
}

func TestAssignAcceptsSessionOnly(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/experiments/assign", map[string]string{
		"session_id": "sess_9",
		"placement":  "newsfeed",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAssignMapsConfigurationError(t *testing.T) {
	f := newFakeServices()
	f.resolveErr = experiment.ErrNoVariants
	router := newTestRouter(f)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/experiments/assign", map[string]string{
		"user_id":   "user_42",
		"placement": "newsfeed",
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeUnprocessable {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestTrackEndpointsStampEventClass(t *testing.T) {
	payload := map[string]interface{}{
		"user_id":       "user_42",
		"experiment_id": 1,
		"variant_id":    2,
		"item_id":       "sku_1",
	}

	tests := []struct {
		path     string
		wantType models.EventType
		wantName string
	}{
		{"/api/v1/experiments/track-impression", models.EventImpression, models.EventNameImpression},
		{"/api/v1/experiments/track-click", models.EventClick, models.EventNameClick},
		{"/api/v1/experiments/track-add-to-cart", models.EventConversion, models.EventNameAddToCart},
		{"/api/v1/experiments/track-purchase", models.EventConversion, models.EventNamePurchase},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			f := newFakeServices()
			router := newTestRouter(f)

			rec, env := doJSON(t, router, http.MethodPost, tt.path, payload)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
			}
			if !env.Success {
				t.Fatalf("success = false: %+v", env.Error)
			}
			if len(f.events) != 1 {
				t.Fatalf("recorded %d events, want 1", len(f.events))
			}
			ev := f.events[0]
			if ev.Type != tt.wantType || ev.Name != tt.wantName {
				t.Errorf("event = %s/%s, want %s/%s", ev.Type, ev.Name, tt.wantType, tt.wantName)
			}
			if ev.ItemID != "sku_1" || ev.ExperimentID != 1 || ev.VariantID != 2 {
				t.Errorf("attribution not carried: %+v", ev)
			}
		})
	}
}

func TestTrackRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(newFakeServices())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments/track-click",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrackRejectsMissingAttribution(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/experiments/track-click", map[string]interface{}{
		"user_id": "user_42",
		"item_id": "sku_1",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(f.events) != 0 {
		t.Errorf("recorded %d events, want 0", len(f.events))
	}
}

func TestCreateExperimentWithInlineVariants(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/", map[string]interface{}{
		"name":               "newsfeed_order_test",
		"target":             "newsfeed",
		"traffic_allocation": 50,
		"variants": []map[string]interface{}{
			{"name": "control", "is_control": true, "traffic_weight": 1},
			{"name": "bandit_order", "traffic_weight": 1, "config": map[string]string{"itemOrdering": "bandit"}},
		},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("success = false: %+v", env.Error)
	}
	if len(f.variants) != 2 {
		t.Fatalf("created %d variants, want 2", len(f.variants))
	}
	if !f.variants[0].IsControl || f.variants[1].IsControl {
		t.Errorf("control flag misplaced: %+v", f.variants)
	}
	if f.variants[1].Config.Ordering != models.OrderingBandit {
		t.Errorf("ordering = %q, want bandit", f.variants[1].Config.Ordering)
	}
}

func TestCreateExperimentRequiresNameAndTarget(t *testing.T) {
	router := newTestRouter(newFakeServices())

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/", map[string]interface{}{
		"description": "missing the required fields",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newFakeServices()
	f.experiments[7] = &models.Experiment{ID: 7, Name: "exp", Status: models.StatusDraft}
	router := newTestRouter(f)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/7/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if f.experiments[7].Status != models.StatusRunning {
		t.Errorf("status after start = %s", f.experiments[7].Status)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/7/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if f.experiments[7].Status != models.StatusCompleted {
		t.Errorf("status after stop = %s", f.experiments[7].Status)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/7/declare-winner", map[string]interface{}{
		"variant_id":   3,
		"significance": 97.9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("declare-winner status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if f.experiments[7].WinnerVariantID == nil || *f.experiments[7].WinnerVariantID != 3 {
		t.Errorf("winner = %v", f.experiments[7].WinnerVariantID)
	}
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", experiment.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"state transition", experiment.ErrInvalidStateTransition, http.StatusConflict, ErrCodeConflict},
		{"configuration", experiment.ErrInvalidWeights, http.StatusUnprocessableEntity, ErrCodeUnprocessable},
		{"validation", experiment.ErrValidation, http.StatusBadRequest, ErrCodeValidationFailed},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeServices()
			f.experiments[1] = &models.Experiment{ID: 1, Status: models.StatusDraft}
			f.adminErr = tt.err
			router := newTestRouter(f)

			rec, env := doJSON(t, router, http.MethodPost, "/api/v1/admin/experiments/1/start", nil)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}

func TestReportParsesTimeRange(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, _ := doJSON(t, router, http.MethodGet,
		"/api/v1/experiments/1/metrics?from=2026-08-01&to=2026-08-15", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if f.reportTR.Start.IsZero() || f.reportTR.End.IsZero() {
		t.Fatalf("time range not forwarded: %+v", f.reportTR)
	}
	if got := f.reportTR.Start.Format("2006-01-02"); got != "2026-08-01" {
		t.Errorf("from = %s", got)
	}
	// A plain "to" date is inclusive of that day.
	if got := f.reportTR.End.Format("2006-01-02"); got != "2026-08-15" {
		t.Errorf("to = %s, want 2026-08-15", got)
	}
	if f.reportTR.End.Hour() != 23 {
		t.Errorf("to %v not extended to end of day", f.reportTR.End)
	}
}

func TestReportRejectsBadTimeRange(t *testing.T) {
	router := newTestRouter(newFakeServices())

	tests := []struct {
		name string
		path string
	}{
		{"garbage from", "/api/v1/experiments/1/metrics?from=yesterday"},
		{"inverted range", "/api/v1/experiments/1/metrics?from=2026-08-15&to=2026-08-01"},
		{"non-numeric id", "/api/v1/experiments/abc/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doJSON(t, router, http.MethodGet, tt.path, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestReportSurfacesDomainError(t *testing.T) {
	f := newFakeServices()
	f.reportErr = fmt.Errorf("%w: no control variant", experiment.ErrInvalidConfiguration)
	router := newTestRouter(f)

	rec, _ := doJSON(t, router, http.MethodGet, "/api/v1/experiments/1/lift", nil)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestOptimizeRanksCandidates(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/experiments/1/optimize", map[string]interface{}{
		"arm_type":  "item",
		"algorithm": "ucb",
		"candidates": []map[string]string{
			{"id": "sku_1"}, {"id": "sku_2"}, {"id": "sku_3"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var ranked []models.RankedCandidate
	if err := json.Unmarshal(env.Data, &ranked); err != nil {
		t.Fatalf("decode ranked: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("ranked %d candidates, want 3", len(ranked))
	}
	if ranked[0].Rank != 1 {
		t.Errorf("first rank = %d", ranked[0].Rank)
	}
}

func TestOptimizeRejectsEmptyCandidates(t *testing.T) {
	router := newTestRouter(newFakeServices())

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/experiments/1/optimize", map[string]interface{}{
		"candidates": []map[string]string{},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOptimizeRejectsUnknownAlgorithm(t *testing.T) {
	router := newTestRouter(newFakeServices())

	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/experiments/1/optimize", map[string]interface{}{
		"algorithm":  "softmax",
		"candidates": []map[string]string{{"id": "sku_1"}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthReportsDatabaseState(t *testing.T) {
	f := newFakeServices()
	router := newTestRouter(f)

	rec, env := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("healthy: status = %d, success = %v", rec.Code, env.Success)
	}

	f.pingErr = errors.New("connection refused")
	rec, env = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: status = %d, want 503", rec.Code)
	}
	if env.Success {
		t.Error("degraded response claims success")
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	router := newTestRouter(newFakeServices())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-me-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "trace-me-123" {
		t.Errorf("X-Request-ID = %q, want trace-me-123", got)
	}
}
