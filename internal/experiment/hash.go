// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package experiment

import (
	"encoding/binary"
	"math"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/stylefeed/experiments/internal/models"
)

// HashPoint maps a subject key onto [0, 1). The mapping is a pure function
// of the key: the same subject lands on the same point in every process and
// on every run, which is what makes assignment deterministic without
// coordination.
func HashPoint(subjectKey string) float64 {
	sum := blake2b.Sum256([]byte(subjectKey))
	return float64(binary.BigEndian.Uint64(sum[:8])) / float64(math.MaxUint64+1.0)
}

// Assign deterministically picks a variant for a subject key by walking the
// cumulative normalized weights in list order. The first bucket whose upper
// bound is >= the subject's hash point wins; a point landing exactly on a
// boundary therefore goes to the earlier variant.
func Assign(subjectKey string, variants []models.Variant) (models.Variant, error) {
	if len(variants) == 0 {
		return models.Variant{}, ErrNoVariants
	}

	var total float64
	for _, v := range variants {
		if v.TrafficWeight < 0 {
			return models.Variant{}, ErrInvalidWeights
		}
		total += v.TrafficWeight
	}
	if total <= 0 {
		return models.Variant{}, ErrInvalidWeights
	}

	point := HashPoint(subjectKey)

	var cumulative float64
	for _, v := range variants {
		cumulative += v.TrafficWeight / total
		if point <= cumulative {
			return v, nil
		}
	}

	// Floating-point underflow on the last bucket's upper bound.
	return variants[len(variants)-1], nil
}

// SubjectKey builds the per-experiment hashing key. Including the
// experiment ID decorrelates bucket positions across experiments, so a
// subject in the treatment of one experiment is not biased toward the
// treatment of another.
func SubjectKey(subjectID string, experimentID int64) string {
	return subjectID + ":" + strconv.FormatInt(experimentID, 10)
}
