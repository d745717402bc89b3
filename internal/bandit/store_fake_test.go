// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package bandit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/models"
)

// fakeArmStore is an in-memory ArmStore. The mutex mirrors the real
// store's guarantee that a reward update is one atomic statement.
type fakeArmStore struct {
	mu     sync.Mutex
	nextID int64
	arms   map[int64]*models.BanditArm
}

func newFakeArmStore() *fakeArmStore {
	return &fakeArmStore{arms: make(map[int64]*models.BanditArm)}
}

func (f *fakeArmStore) EnsureArm(_ context.Context, experimentID int64, armType models.ArmType, armID, armName string, metadata map[string]string) (*models.BanditArm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, arm := range f.arms {
		if arm.ExperimentID == experimentID && arm.ArmType == armType && arm.ArmID == armID {
			cp := *arm
			return &cp, nil
		}
	}

	f.nextID++
	arm := &models.BanditArm{
		ID:           f.nextID,
		ExperimentID: experimentID,
		ArmType:      armType,
		ArmID:        armID,
		ArmName:      armName,
		Metadata:     metadata,
		Alpha:        1,
		Beta:         1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.arms[arm.ID] = arm
	cp := *arm
	return &cp, nil
}

func (f *fakeArmStore) GetArm(_ context.Context, experimentID int64, armType models.ArmType, armID string) (*models.BanditArm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, arm := range f.arms {
		if arm.ExperimentID == experimentID && arm.ArmType == armType && arm.ArmID == armID {
			cp := *arm
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeArmStore) GetArmByID(_ context.Context, id int64) (*models.BanditArm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	arm, ok := f.arms[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *arm
	return &cp, nil
}

func (f *fakeArmStore) GetArms(_ context.Context, experimentID int64, armType models.ArmType) ([]models.BanditArm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BanditArm
	for _, arm := range f.arms {
		if arm.ExperimentID == experimentID && arm.ArmType == armType {
			out = append(out, *arm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeArmStore) ApplyReward(_ context.Context, armRowID int64, reward float64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	arm, ok := f.arms[armRowID]
	if !ok {
		return database.ErrNotFound
	}
	arm.TotalPulls++
	arm.TotalReward += reward
	arm.AverageReward = arm.TotalReward / float64(arm.TotalPulls)
	if success {
		arm.Alpha++
	} else {
		arm.Beta++
	}
	arm.UpdatedAt = time.Now()
	return nil
}

func (f *fakeArmStore) ResetArm(_ context.Context, armRowID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	arm, ok := f.arms[armRowID]
	if !ok {
		return database.ErrNotFound
	}
	arm.TotalPulls = 0
	arm.TotalReward = 0
	arm.AverageReward = 0
	arm.Alpha = 1
	arm.Beta = 1
	arm.UpdatedAt = time.Now()
	return nil
}
