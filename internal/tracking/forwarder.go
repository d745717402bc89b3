// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

const breakerName = "reward_forwarder"

// ArmStore is the subset of the arm store the forwarder needs.
type ArmStore interface {
	EnsureArm(ctx context.Context, experimentID int64, armType models.ArmType, armID, armName string, metadata map[string]string) (*models.BanditArm, error)
	ApplyReward(ctx context.Context, armRowID int64, reward float64, success bool) error
}

// StoreSink applies reward signals to the arm store, lazily creating arms
// by natural key on first reward.
type StoreSink struct {
	store ArmStore
}

// NewStoreSink creates a sink over the arm store.
func NewStoreSink(store ArmStore) *StoreSink {
	return &StoreSink{store: store}
}

// ApplyReward upserts the arm and applies the reward atomically in the store.
func (s *StoreSink) ApplyReward(ctx context.Context, sig RewardSignal) error {
	arm, err := s.store.EnsureArm(ctx, sig.ExperimentID, sig.ArmType, sig.ArmID, sig.ArmName, nil)
	if err != nil {
		return fmt.Errorf("ensure arm %s/%s: %w", sig.ArmType, sig.ArmID, err)
	}
	if err := s.store.ApplyReward(ctx, arm.ID, sig.Reward, sig.Success); err != nil {
		return fmt.Errorf("apply reward to arm %d: %w", arm.ID, err)
	}
	metrics.RecordArmUpdate("reward", string(sig.ArmType))
	return nil
}

// RewardSink consumes reward signals. Implemented by StoreSink in production
// and by fakes in tests.
type RewardSink interface {
	ApplyReward(ctx context.Context, sig RewardSignal) error
}

// Forwarder moves reward signals from the pipeline into arm state. The sink
// is wrapped in a circuit breaker so a struggling store sheds load instead
// of stacking up blocked updates; unapplied entries stay pending in the WAL
// and are replayed by the retry loop once the breaker closes.
type Forwarder struct {
	wal     *RewardWAL
	sink    RewardSink
	breaker *gobreaker.CircuitBreaker[any]
}

// NewForwarder creates a forwarder with breaker thresholds from cfg.
func NewForwarder(wal *RewardWAL, sink RewardSink, cfg config.TrackingConfig) *Forwarder {
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    breakerName,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("reward forwarder breaker state change")
		},
	}

	return &Forwarder{
		wal:     wal,
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Run consumes the reward subscription until the context is canceled or the
// channel closes. Messages are always acked: the WAL, not the pipeline, is
// the source of truth for retry.
func (f *Forwarder) Run(ctx context.Context, messages <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, msg)
			msg.Ack()
		}
	}
}

func (f *Forwarder) handleMessage(ctx context.Context, msg *message.Message) {
	start := time.Now()
	entryID := msg.Metadata.Get(metadataEntryID)

	var sig RewardSignal
	if err := unmarshalSignal(msg.Payload, &sig); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("message_id", msg.UUID).
			Msg("reward message undecodable, dropping")
		metrics.PipelineProcessed.WithLabelValues(TopicRewards, "error").Inc()
		return
	}

	if entryID != "" && !f.wal.TryClaim(entryID) {
		// The retry loop already owns this entry.
		return
	}
	if entryID != "" {
		defer f.wal.Release(entryID)
	}

	if err := f.apply(ctx, entryID, &sig); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("entry_id", entryID).
			Str("arm_id", sig.ArmID).
			Msg("reward forwarding failed, deferring to WAL retry")
		metrics.PipelineProcessed.WithLabelValues(TopicRewards, "error").Inc()
		return
	}

	metrics.PipelineProcessed.WithLabelValues(TopicRewards, "ok").Inc()
	metrics.PipelineProcessingDuration.WithLabelValues(TopicRewards).
		Observe(time.Since(start).Seconds())
}

// ApplyEntry replays a WAL entry through the breaker-protected sink.
// Used by the retry loop; the caller holds the processing claim.
func (f *Forwarder) ApplyEntry(ctx context.Context, entry *Entry) error {
	sig, err := entry.Signal()
	if err != nil {
		return err
	}
	return f.apply(ctx, entry.ID, sig)
}

// apply runs the sink behind the breaker and confirms the WAL entry only
// after the store update succeeds.
func (f *Forwarder) apply(ctx context.Context, entryID string, sig *RewardSignal) error {
	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.sink.ApplyReward(ctx, *sig)
	})
	if err != nil {
		return err
	}

	if entryID != "" {
		err := f.wal.Confirm(ctx, entryID)
		// Not-found means another path already confirmed the entry.
		if err != nil && !errors.Is(err, ErrEntryNotFound) {
			return fmt.Errorf("confirm WAL entry: %w", err)
		}
	}
	return nil
}

func unmarshalSignal(payload []byte, sig *RewardSignal) error {
	entry := Entry{Payload: payload}
	decoded, err := entry.Signal()
	if err != nil {
		return err
	}
	*sig = *decoded
	return nil
}
