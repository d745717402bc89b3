// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package analytics

import (
	"fmt"
	"math"

	"github.com/stylefeed/experiments/internal/experiment"
	"github.com/stylefeed/experiments/internal/models"
)

// NormalCDF approximates the standard normal cumulative distribution
// function with the Zelen & Severo rational polynomial (absolute error
// below 7.5e-8).
func NormalCDF(x float64) float64 {
	t := 1 / (1 + 0.2316419*math.Abs(x))
	d := 0.3989423 * math.Exp(-x*x/2)
	prob := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))
	if x > 0 {
		return 1 - prob
	}
	return prob
}

// TwoProportionZTest runs a pooled two-proportion z-test between a control
// and a treatment group. Trials are impressions, successes are conversions.
// Both sides need at least one trial; beyond that the test is only as
// reliable as its sample sizes (below roughly 30 trials per side the normal
// approximation degrades).
func TwoProportionZTest(controlSuccesses, controlTrials, treatmentSuccesses, treatmentTrials int64) (*models.SignificanceResult, error) {
	if controlTrials <= 0 || treatmentTrials <= 0 {
		return nil, fmt.Errorf("%w: significance requires impressions on both sides", experiment.ErrInvalidConfiguration)
	}

	p1 := float64(controlSuccesses) / float64(controlTrials)
	p2 := float64(treatmentSuccesses) / float64(treatmentTrials)
	n1 := float64(controlTrials)
	n2 := float64(treatmentTrials)

	pooled := float64(controlSuccesses+treatmentSuccesses) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	// Degenerate pools (all successes or all failures on both sides) have
	// zero standard error and carry no evidence of a difference.
	var z float64
	if se > 0 {
		z = (p2 - p1) / se
	}

	pValue := 2 * (1 - NormalCDF(math.Abs(z)))

	return &models.SignificanceResult{
		ZScore:            round(z, 4),
		PValue:            round(pValue, 4),
		ConfidencePercent: round((1-pValue)*100, 2),
		IsSignificant:     pValue < 0.05,
		TreatmentBetter:   p2 > p1,
	}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
