// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/models"
)

// fakeStore is an in-memory Store. The mutex mirrors the real store's
// guarantee that assignment writes are first-writer-wins.
type fakeStore struct {
	mu          sync.Mutex
	nextExpID   int64
	nextVarID   int64
	experiments map[int64]*models.Experiment
	variants    map[int64]*models.Variant
	assignments map[string]*models.Assignment // subjectID + "/" + experimentID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		experiments: make(map[int64]*models.Experiment),
		variants:    make(map[int64]*models.Variant),
		assignments: make(map[string]*models.Assignment),
	}
}

func assignmentKey(subjectID string, experimentID int64) string {
	return subjectID + "/" + SubjectKey("", experimentID)
}

func (f *fakeStore) CreateExperiment(_ context.Context, exp *models.Experiment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextExpID++
	exp.ID = f.nextExpID
	exp.CreatedAt = time.Now()
	exp.UpdatedAt = exp.CreatedAt
	cp := *exp
	f.experiments[exp.ID] = &cp
	return nil
}

func (f *fakeStore) CreateVariant(_ context.Context, v *models.Variant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextVarID++
	v.ID = f.nextVarID
	v.CreatedAt = time.Now()
	cp := *v
	f.variants[v.ID] = &cp
	return nil
}

func (f *fakeStore) GetExperiment(_ context.Context, id int64) (*models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.experiments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *exp
	return &cp, nil
}

func (f *fakeStore) GetExperimentByName(_ context.Context, name string) (*models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, exp := range f.experiments {
		if exp.Name == name {
			cp := *exp
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListExperiments(_ context.Context, status models.ExperimentStatus) ([]models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Experiment
	for _, exp := range f.experiments {
		if status == "" || exp.Status == status {
			out = append(out, *exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) FindRunningByTargets(_ context.Context, targets []string) ([]models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}
	var out []models.Experiment
	for _, exp := range f.experiments {
		if exp.Status == models.StatusRunning && targetSet[exp.Target] {
			out = append(out, *exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateExperimentStatus(_ context.Context, id int64, status models.ExperimentStatus, startDate, endDate *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.experiments[id]
	if !ok {
		return database.ErrNotFound
	}
	exp.Status = status
	if startDate != nil {
		exp.StartDate = startDate
	}
	if endDate != nil {
		exp.EndDate = endDate
	}
	exp.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) SetWinner(_ context.Context, id, variantID int64, significance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.experiments[id]
	if !ok {
		return database.ErrNotFound
	}
	exp.WinnerVariantID = &variantID
	exp.StatisticalSignificance = &significance
	exp.Status = models.StatusCompleted
	if exp.EndDate == nil {
		now := time.Now()
		exp.EndDate = &now
	}
	return nil
}

func (f *fakeStore) GetVariants(_ context.Context, experimentID int64) ([]models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Variant
	for _, v := range f.variants {
		if v.ExperimentID == experimentID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetVariant(_ context.Context, id int64) (*models.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeStore) GetAssignment(_ context.Context, subjectID string, experimentID int64) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[assignmentKey(subjectID, experimentID)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) SaveAssignment(_ context.Context, a *models.Assignment) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := assignmentKey(a.SubjectID, a.ExperimentID)
	if existing, ok := f.assignments[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *a
	cp.AssignedAt = time.Now()
	f.assignments[key] = &cp
	out := cp
	return &out, nil
}
