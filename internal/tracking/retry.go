// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
)

// EntryApplier replays a WAL entry into arm state. Satisfied by Forwarder.
type EntryApplier interface {
	ApplyEntry(ctx context.Context, entry *Entry) error
}

// RetryLoop periodically replays pending WAL entries. Replay is rate limited
// so a backlog drains without starving the live path, and entries that
// exhaust their attempt budget are parked for operator attention.
type RetryLoop struct {
	wal         *RewardWAL
	applier     EntryApplier
	interval    time.Duration
	maxAttempts int
	limiter     *rate.Limiter
}

// NewRetryLoop creates a retry loop with intervals and budgets from cfg.
func NewRetryLoop(wal *RewardWAL, applier EntryApplier, cfg config.TrackingConfig) *RetryLoop {
	interval := cfg.RetryInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RetryRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RetryRatePerSecond), 1)
	}

	return &RetryLoop{
		wal:         wal,
		applier:     applier,
		interval:    interval,
		maxAttempts: cfg.MaxAttempts,
		limiter:     limiter,
	}
}

// Run executes the retry loop until the context is canceled. An immediate
// first pass replays anything left over from a previous process.
func (r *RetryLoop) Run(ctx context.Context) error {
	logging.Info().
		Dur("interval", r.interval).
		Int("max_attempts", r.maxAttempts).
		Msg("reward retry loop started")

	r.replayPending(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.replayPending(ctx)
		}
	}
}

func (r *RetryLoop) replayPending(ctx context.Context) {
	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("reward retry failed to list pending entries")
		}
		return
	}
	if len(entries) == 0 {
		return
	}

	var succeeded, failed, parked int
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch r.processEntry(ctx, entry) {
		case retrySucceeded:
			succeeded++
		case retryFailed:
			failed++
		case retryParked:
			parked++
		}
	}

	if succeeded > 0 || failed > 0 || parked > 0 {
		logging.Info().
			Int("succeeded", succeeded).
			Int("failed", failed).
			Int("parked", parked).
			Msg("reward retry pass complete")
	}
}

type retryOutcome int

const (
	retrySucceeded retryOutcome = iota
	retryFailed
	retryParked
	retrySkipped
)

func (r *RetryLoop) processEntry(ctx context.Context, entry *Entry) retryOutcome {
	if !r.wal.TryClaim(entry.ID) {
		return retrySkipped
	}
	defer r.wal.Release(entry.ID)

	if r.maxAttempts > 0 && entry.Attempts >= r.maxAttempts {
		logging.Error().
			Str("entry_id", entry.ID).
			Int("attempts", entry.Attempts).
			Str("last_error", entry.LastError).
			Msg("reward entry exceeded retry budget, parking")
		if err := r.wal.Park(ctx, entry.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to park reward entry")
		}
		metrics.WALRetries.WithLabelValues("dropped").Inc()
		return retryParked
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return retrySkipped
		}
	}

	if err := r.applier.ApplyEntry(ctx, entry); err != nil {
		if updateErr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); updateErr != nil &&
			!errors.Is(updateErr, ErrEntryNotFound) {
			logging.Error().Err(updateErr).Str("entry_id", entry.ID).
				Msg("failed to record reward retry attempt")
		}
		metrics.WALRetries.WithLabelValues("failure").Inc()
		return retryFailed
	}

	metrics.WALRetries.WithLabelValues("success").Inc()
	return retrySucceeded
}

// CompactionLoop periodically purges confirmed WAL entries.
type CompactionLoop struct {
	wal      *RewardWAL
	interval time.Duration
}

// NewCompactionLoop creates a compaction loop with the configured interval.
func NewCompactionLoop(wal *RewardWAL, cfg config.TrackingConfig) *CompactionLoop {
	interval := cfg.CompactionInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &CompactionLoop{wal: wal, interval: interval}
}

// Run executes the compaction loop until the context is canceled.
func (c *CompactionLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.wal.Compact(ctx); err != nil {
				logging.Error().Err(err).Msg("reward WAL compaction failed")
			}
		}
	}
}
