// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stylefeed/experiments/internal/models"
)

// newDraft creates a draft experiment with the given variants on a fresh
// fake store and returns the registry plus the experiment.
func newDraft(t *testing.T, target string, variants ...models.Variant) (*Registry, *fakeStore, *models.Experiment) {
	t.Helper()
	store := newFakeStore()
	registry := NewRegistry(store)
	ctx := context.Background()

	exp := &models.Experiment{Name: "test_" + target, Target: target}
	if err := registry.Create(ctx, exp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := range variants {
		variants[i].ExperimentID = exp.ID
		if err := registry.AddVariant(ctx, &variants[i]); err != nil {
			t.Fatalf("AddVariant(%s): %v", variants[i].Name, err)
		}
	}
	return registry, store, exp
}

func TestCreateValidation(t *testing.T) {
	registry := NewRegistry(newFakeStore())
	ctx := context.Background()

	tests := []struct {
		name string
		exp  models.Experiment
	}{
		{"missing name", models.Experiment{Target: "newsfeed"}},
		{"missing target", models.Experiment{Name: "x"}},
		{"allocation above 100", models.Experiment{Name: "x", Target: "newsfeed", TrafficAllocation: 120}},
		{"negative allocation", models.Experiment{Name: "x", Target: "newsfeed", TrafficAllocation: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Create(ctx, &tt.exp)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}

	exp := models.Experiment{Name: "defaults", Target: "newsfeed"}
	if err := registry.Create(ctx, &exp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if exp.TrafficAllocation != 100 {
		t.Errorf("TrafficAllocation = %f, want default 100", exp.TrafficAllocation)
	}
	if exp.Status != models.StatusDraft {
		t.Errorf("Status = %q, want draft", exp.Status)
	}
}

func TestAddVariantSecondControlRejected(t *testing.T) {
	registry, _, exp := newDraft(t, "newsfeed",
		models.Variant{Name: "control", IsControl: true, TrafficWeight: 1})

	err := registry.AddVariant(context.Background(), &models.Variant{
		ExperimentID: exp.ID, Name: "control_2", IsControl: true, TrafficWeight: 1,
	})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestAddVariantOnlyInDraft(t *testing.T) {
	registry, _, exp := newDraft(t, "newsfeed",
		models.Variant{Name: "control", IsControl: true, TrafficWeight: 1})
	ctx := context.Background()

	if err := registry.Start(ctx, exp.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := registry.AddVariant(ctx, &models.Variant{
		ExperimentID: exp.ID, Name: "late", TrafficWeight: 1,
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("start requires variants", func(t *testing.T) {
		registry, _, exp := newDraft(t, "newsfeed")
		if err := registry.Start(ctx, exp.ID); !errors.Is(err, ErrNoVariants) {
			t.Errorf("error = %v, want ErrNoVariants", err)
		}
	})

	t.Run("start stamps date", func(t *testing.T) {
		registry, _, exp := newDraft(t, "newsfeed",
			models.Variant{Name: "control", TrafficWeight: 1})
		if err := registry.Start(ctx, exp.ID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		got, err := registry.GetByID(ctx, exp.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != models.StatusRunning || got.StartDate == nil {
			t.Errorf("after start: status %q, start %v", got.Status, got.StartDate)
		}
	})

	t.Run("double start rejected", func(t *testing.T) {
		registry, _, exp := newDraft(t, "newsfeed",
			models.Variant{Name: "control", TrafficWeight: 1})
		if err := registry.Start(ctx, exp.ID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := registry.Start(ctx, exp.ID); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("error = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("stop of draft rejected", func(t *testing.T) {
		registry, _, exp := newDraft(t, "newsfeed",
			models.Variant{Name: "control", TrafficWeight: 1})
		if err := registry.Stop(ctx, exp.ID); !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("error = %v, want ErrInvalidStateTransition", err)
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		registry, _, exp := newDraft(t, "newsfeed",
			models.Variant{Name: "control", TrafficWeight: 1})
		if err := registry.Start(ctx, exp.ID); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := registry.Stop(ctx, exp.ID); err != nil {
			t.Fatalf("first Stop: %v", err)
		}
		if err := registry.Stop(ctx, exp.ID); err != nil {
			t.Errorf("second Stop = %v, want no-op success", err)
		}
	})

	t.Run("missing experiment", func(t *testing.T) {
		registry := NewRegistry(newFakeStore())
		if err := registry.Start(ctx, 404); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestDeclareWinner(t *testing.T) {
	ctx := context.Background()
	registry, _, exp := newDraft(t, "newsfeed",
		models.Variant{Name: "control", IsControl: true, TrafficWeight: 1},
		models.Variant{Name: "treatment", TrafficWeight: 1})

	variants, err := registry.Variants(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Variants: %v", err)
	}

	// Draft experiments have no results to declare on.
	if err := registry.DeclareWinner(ctx, exp.ID, variants[1].ID, 95); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("declare on draft = %v, want ErrInvalidStateTransition", err)
	}

	if err := registry.Start(ctx, exp.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := registry.DeclareWinner(ctx, exp.ID, 404, 95); !errors.Is(err, ErrNotFound) {
		t.Fatalf("declare with missing variant = %v, want ErrNotFound", err)
	}

	// A variant belonging to a different experiment is rejected.
	foreign := &models.Experiment{Name: "foreign", Target: "other"}
	if err := registry.Create(ctx, foreign); err != nil {
		t.Fatalf("Create: %v", err)
	}
	foreignVariant := &models.Variant{ExperimentID: foreign.ID, Name: "control", TrafficWeight: 1}
	if err := registry.AddVariant(ctx, foreignVariant); err != nil {
		t.Fatalf("AddVariant: %v", err)
	}
	if err := registry.DeclareWinner(ctx, exp.ID, foreignVariant.ID, 95); !errors.Is(err, ErrValidation) {
		t.Fatalf("declare with foreign variant = %v, want ErrValidation", err)
	}

	if err := registry.DeclareWinner(ctx, exp.ID, variants[1].ID, 97.5); err != nil {
		t.Fatalf("DeclareWinner: %v", err)
	}

	got, err := registry.GetByID(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.WinnerVariantID == nil || *got.WinnerVariantID != variants[1].ID {
		t.Errorf("WinnerVariantID = %v", got.WinnerVariantID)
	}
}

func TestFindForPlacement(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	registry := NewRegistry(store)

	mk := func(name, target string, start bool) *models.Experiment {
		exp := &models.Experiment{Name: name, Target: target}
		if err := registry.Create(ctx, exp); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
		if err := registry.AddVariant(ctx, &models.Variant{ExperimentID: exp.ID, Name: "control", TrafficWeight: 1}); err != nil {
			t.Fatalf("AddVariant: %v", err)
		}
		if start {
			if err := registry.Start(ctx, exp.ID); err != nil {
				t.Fatalf("Start(%s): %v", name, err)
			}
		}
		return exp
	}

	specific := mk("specific", "home_feed", true)
	generic := mk("generic", TargetNewsfeed, true)
	mk("unrelated", "checkout_banner", true)
	mk("dormant", "home_feed", false)

	t.Run("lowest id wins among matches", func(t *testing.T) {
		// Both "specific" (home_feed) and "generic" (newsfeed) match
		// home_feed; specific was created first.
		got, err := registry.FindForPlacement(ctx, "home_feed")
		if err != nil {
			t.Fatalf("FindForPlacement: %v", err)
		}
		if got == nil || got.ID != specific.ID {
			t.Errorf("got %+v, want experiment %d", got, specific.ID)
		}
	})

	t.Run("generic target matches any placement", func(t *testing.T) {
		got, err := registry.FindForPlacement(ctx, "search_results")
		if err != nil {
			t.Fatalf("FindForPlacement: %v", err)
		}
		if got == nil || got.ID != generic.ID {
			t.Errorf("got %+v, want generic experiment %d", got, generic.ID)
		}
	})

	t.Run("no match is nil without error", func(t *testing.T) {
		store2 := newFakeStore()
		registry2 := NewRegistry(store2)
		got, err := registry2.FindForPlacement(ctx, "anything")
		if err != nil || got != nil {
			t.Errorf("got %v, %v; want nil, nil", got, err)
		}
	})
}
