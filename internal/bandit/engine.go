// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package bandit implements multi-armed-bandit content optimization:
// Thompson Sampling, UCB1, and epsilon-greedy selection over per-experiment
// arm pools, with reward updates delegated to the store's atomic UPDATE.
package bandit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// ArmStore is the persistence surface for arm state. *database.DB satisfies
// it; tests use an in-memory fake that mirrors the atomicity guarantee.
type ArmStore interface {
	EnsureArm(ctx context.Context, experimentID int64, armType models.ArmType, armID, armName string, metadata map[string]string) (*models.BanditArm, error)
	GetArm(ctx context.Context, experimentID int64, armType models.ArmType, armID string) (*models.BanditArm, error)
	GetArmByID(ctx context.Context, id int64) (*models.BanditArm, error)
	GetArms(ctx context.Context, experimentID int64, armType models.ArmType) ([]models.BanditArm, error)
	ApplyReward(ctx context.Context, armRowID int64, reward float64, success bool) error
	ResetArm(ctx context.Context, armRowID int64) error
}

// Engine runs arm selection and reward bookkeeping. It holds no arm state
// itself; every decision reads the store so concurrent engines (or
// processes) stay consistent.
type Engine struct {
	store ArmStore
	cfg   config.BanditConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine with the configured defaults.
func NewEngine(store ArmStore, cfg config.BanditConfig) *Engine {
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = AlgorithmThompson
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Options tunes one selection call. Zero values fall back to the engine's
// configured defaults.
type Options struct {
	Algorithm   string
	Epsilon     float64
	UCBConstant float64
}

// SelectArms ranks up to count arms of an (experiment, type) pool using the
// requested algorithm.
func (e *Engine) SelectArms(ctx context.Context, experimentID int64, armType models.ArmType, count int, opts Options) ([]models.RankedCandidate, error) {
	arms, err := e.store.GetArms(ctx, experimentID, armType)
	if err != nil {
		return nil, fmt.Errorf("failed to load arms: %w", err)
	}
	if len(arms) == 0 {
		return nil, nil
	}
	if count <= 0 {
		count = len(arms)
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = e.cfg.DefaultAlgorithm
	}

	start := time.Now()
	scored, err := e.runAlgorithm(algorithm, arms, count, opts)
	if err != nil {
		return nil, err
	}
	metrics.RecordSelection(algorithm, time.Since(start))

	ranked := make([]models.RankedCandidate, len(scored))
	for i, s := range scored {
		ranked[i] = models.RankedCandidate{
			Candidate: models.Candidate{
				ID:       s.arm.ArmID,
				Name:     s.arm.ArmName,
				Metadata: s.arm.Metadata,
			},
			Rank:  i + 1,
			ArmID: s.arm.ID,
			Score: s.score,
		}
	}
	return ranked, nil
}

func (e *Engine) runAlgorithm(algorithm string, arms []models.BanditArm, count int, opts Options) ([]scoredArm, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch algorithm {
	case AlgorithmThompson:
		return thompsonSelect(arms, count, e.rng), nil
	case AlgorithmUCB:
		c := opts.UCBConstant
		if c <= 0 {
			c = e.cfg.UCBConstant
		}
		return ucbSelect(arms, count, c), nil
	case AlgorithmEpsilon:
		eps := opts.Epsilon
		if eps <= 0 {
			eps = e.cfg.Epsilon
		}
		return epsilonSelect(arms, count, eps, e.rng), nil
	default:
		return nil, fmt.Errorf("unknown bandit algorithm %q", algorithm)
	}
}

// UpdateArm applies one reward observation. success may be nil, in which
// case a reward above 0.5 counts as a success (clicks at 1.0 and
// conversions at 2.0 both qualify; a zero reward does not).
func (e *Engine) UpdateArm(ctx context.Context, armRowID int64, reward float64, success *bool) error {
	ok := reward > 0.5
	if success != nil {
		ok = *success
	}

	if err := e.store.ApplyReward(ctx, armRowID, reward, ok); err != nil {
		return fmt.Errorf("failed to update arm %d: %w", armRowID, err)
	}
	return nil
}

// ResetArm returns an arm to the uniform prior.
func (e *Engine) ResetArm(ctx context.Context, armRowID int64) error {
	if err := e.store.ResetArm(ctx, armRowID); err != nil {
		return fmt.Errorf("failed to reset arm %d: %w", armRowID, err)
	}
	logging.Ctx(ctx).Info().Int64("arm_id", armRowID).Msg("bandit arm reset")
	return nil
}

// ArmPerformance returns the arms of a pool ordered by expected win rate,
// best first.
func (e *Engine) ArmPerformance(ctx context.Context, experimentID int64, armType models.ArmType) ([]models.BanditArm, error) {
	arms, err := e.store.GetArms(ctx, experimentID, armType)
	if err != nil {
		return nil, fmt.Errorf("failed to load arms: %w", err)
	}
	sort.SliceStable(arms, func(i, j int) bool {
		return arms[i].ExpectedWinRate() > arms[j].ExpectedWinRate()
	})
	return arms, nil
}

// BestArms returns the top n arms by expected win rate, skipping arms with
// no pulls so a cold pool does not produce a meaningless leaderboard.
func (e *Engine) BestArms(ctx context.Context, experimentID int64, armType models.ArmType, n int) ([]models.BanditArm, error) {
	arms, err := e.ArmPerformance(ctx, experimentID, armType)
	if err != nil {
		return nil, err
	}

	out := make([]models.BanditArm, 0, n)
	for _, arm := range arms {
		if arm.TotalPulls == 0 {
			continue
		}
		out = append(out, arm)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// OptimizeOrdering ranks a candidate list with the bandit. Arms are ensured
// lazily, so candidates never seen before enter at the uniform prior and
// are immediately rankable. The returned slice has every input candidate
// exactly once, annotated with rank and score.
func (e *Engine) OptimizeOrdering(ctx context.Context, experimentID int64, armType models.ArmType, candidates []models.Candidate, opts Options) ([]models.RankedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	byArmID := make(map[string]models.Candidate, len(candidates))
	for _, c := range candidates {
		if _, err := e.store.EnsureArm(ctx, experimentID, armType, c.ID, c.Name, c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to ensure arm for candidate %q: %w", c.ID, err)
		}
		byArmID[c.ID] = c
	}

	ranked, err := e.SelectArms(ctx, experimentID, armType, len(candidates), opts)
	if err != nil {
		return nil, err
	}

	out := make([]models.RankedCandidate, 0, len(candidates))
	for _, r := range ranked {
		c, ok := byArmID[r.Candidate.ID]
		if !ok {
			// Arm pool is wider than this candidate set; skip arms not
			// offered this time.
			continue
		}
		r.Candidate = c
		r.Rank = len(out) + 1
		out = append(out, r)
		delete(byArmID, c.ID)
	}

	// Candidates whose arms were not selected (pool wider than count)
	// keep their relative input order at the tail.
	for _, c := range candidates {
		if _, left := byArmID[c.ID]; left {
			out = append(out, models.RankedCandidate{
				Candidate: c,
				Rank:      len(out) + 1,
			})
			delete(byArmID, c.ID)
		}
	}

	return out, nil
}
