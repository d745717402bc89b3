// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package bandit

import (
	"math"
	"math/rand"
	"sort"

	"github.com/stylefeed/experiments/internal/models"
)

// Supported selection algorithms.
const (
	AlgorithmThompson = "thompson"
	AlgorithmUCB      = "ucb"
	AlgorithmEpsilon  = "epsilon"
)

// Defaults for the exploration parameters.
var (
	DefaultEpsilon     = 0.1
	DefaultUCBConstant = math.Sqrt2
)

// scoredArm pairs an arm with its per-selection score.
type scoredArm struct {
	arm   models.BanditArm
	score float64
}

// thompsonSelect draws one sample from each arm's Beta posterior and ranks
// arms by sample, descending. Sampling is approximate: with both parameters
// above 1 the Beta is near-normal and a Box-Muller draw on the matched
// mean/variance is used; otherwise a 100-draw average of the inverse-power
// transform stands in. Both keep the essential property that uncertain arms
// sometimes outrank better-explored ones.
func thompsonSelect(arms []models.BanditArm, count int, rng *rand.Rand) []scoredArm {
	scored := make([]scoredArm, len(arms))
	for i, arm := range arms {
		scored[i] = scoredArm{arm: arm, score: sampleBeta(arm.Alpha, arm.Beta, rng)}
	}
	sortByScore(scored)
	return scored[:min(count, len(scored))]
}

// sampleBeta draws an approximate sample from Beta(alpha, beta).
func sampleBeta(alpha, beta float64, rng *rand.Rand) float64 {
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}

	if alpha > 1 && beta > 1 {
		total := alpha + beta
		mean := alpha / total
		variance := alpha * beta / (total * total * (total + 1))
		sample := mean + gaussian(rng)*math.Sqrt(variance)
		return clamp01(sample)
	}

	// Small-parameter fallback: average of 100 inverse-power draws.
	var sum float64
	for i := 0; i < 100; i++ {
		u := rng.Float64()
		sum += math.Pow(u, 1/alpha) * math.Pow(1-u, 1/beta)
	}
	return clamp01(sum / 100)
}

// gaussian returns a standard normal draw via Box-Muller.
func gaussian(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// ucbSelect ranks arms by average reward plus the UCB1 exploration bonus
// c * sqrt(ln(totalPulls) / pulls). An arm with zero pulls scores +Inf so
// every arm is tried at least once.
func ucbSelect(arms []models.BanditArm, count int, c float64) []scoredArm {
	if c <= 0 {
		c = DefaultUCBConstant
	}

	var totalPulls int64
	for _, arm := range arms {
		totalPulls += arm.TotalPulls
	}
	if totalPulls < 1 {
		totalPulls = 1
	}
	logTotal := math.Log(float64(totalPulls))

	scored := make([]scoredArm, len(arms))
	for i, arm := range arms {
		score := math.Inf(1)
		if arm.TotalPulls > 0 {
			score = arm.AverageReward + c*math.Sqrt(logTotal/float64(arm.TotalPulls))
		}
		scored[i] = scoredArm{arm: arm, score: score}
	}
	sortByScore(scored)
	return scored[:min(count, len(scored))]
}

// epsilonSelect fills each output slot independently: with probability
// epsilon the slot explores uniformly over the arms not yet chosen, else it
// exploits the reward-sorted order, cycling by slot index. Every returned
// arm is distinct.
func epsilonSelect(arms []models.BanditArm, count int, epsilon float64, rng *rand.Rand) []scoredArm {
	// epsilon = 1 is valid and means every slot explores.
	if epsilon <= 0 || epsilon > 1 {
		epsilon = DefaultEpsilon
	}

	byReward := make([]models.BanditArm, len(arms))
	copy(byReward, arms)
	sort.SliceStable(byReward, func(i, j int) bool {
		return byReward[i].AverageReward > byReward[j].AverageReward
	})

	n := len(byReward)
	count = min(count, n)
	used := make(map[int64]bool, count)
	out := make([]scoredArm, 0, count)

	takeFirstUnused := func(start int) models.BanditArm {
		for off := 0; off < n; off++ {
			candidate := byReward[(start+off)%n]
			if !used[candidate.ID] {
				return candidate
			}
		}
		return byReward[start%n] // unreachable while len(out) < n
	}

	for slot := 0; len(out) < count; slot++ {
		var pick models.BanditArm
		if rng.Float64() < epsilon {
			pick = takeFirstUnused(rng.Intn(n))
		} else {
			pick = takeFirstUnused(slot % n)
		}
		used[pick.ID] = true
		out = append(out, scoredArm{arm: pick, score: pick.AverageReward})
	}
	return out
}

// sortByScore orders descending by score; ties break on lower arm row ID so
// repeated selections with equal scores are stable.
func sortByScore(scored []scoredArm) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].arm.ID < scored[j].arm.ID
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
