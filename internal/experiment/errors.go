// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"errors"
	"fmt"
)

// Error taxonomy for the experimentation core. The API layer maps these to
// HTTP status codes; the tracking path never surfaces them to callers.
var (
	// ErrNotFound is returned when an experiment or variant lookup misses.
	ErrNotFound = errors.New("experiment not found")

	// ErrInvalidStateTransition is returned for lifecycle operations on an
	// experiment in the wrong state (e.g. starting a completed experiment).
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidConfiguration is the parent of configuration defects that
	// make an experiment unusable for its current operation.
	ErrInvalidConfiguration = errors.New("invalid experiment configuration")

	// ErrNoVariants: the variant list is empty.
	ErrNoVariants = fmt.Errorf("%w: no variants", ErrInvalidConfiguration)

	// ErrInvalidWeights: a negative weight or a non-positive weight total.
	ErrInvalidWeights = fmt.Errorf("%w: invalid traffic weights", ErrInvalidConfiguration)

	// ErrValidation is returned for malformed caller input.
	ErrValidation = errors.New("validation failed")
)
