// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"time"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
	"github.com/stylefeed/experiments/internal/models"
)

// EventStore is the subset of the event store the recorder needs.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.Event) error
	UpsertPositionPerformance(ctx context.Context, experimentID int64, position int, day time.Time, eventType models.EventType, value float64) error
}

// RewardQueue accepts reward signals for durable delivery to arm state.
// Satisfied by Pipeline.
type RewardQueue interface {
	Enqueue(ctx context.Context, sig RewardSignal) error
}

// EventRecorder is the fire-and-forget ingestion surface. Track methods
// never report failure to the caller: a lost event must not break the
// shopping flow that produced it. Every internal error is logged and
// counted instead.
type EventRecorder struct {
	store   EventStore
	rewards RewardQueue
	cfg     config.BanditConfig
}

// NewEventRecorder creates a recorder. rewards may be nil, which disables
// bandit feedback (events are still appended).
func NewEventRecorder(store EventStore, rewards RewardQueue, cfg config.BanditConfig) *EventRecorder {
	return &EventRecorder{store: store, rewards: rewards, cfg: cfg}
}

// TrackImpression records that a subject saw an item or module.
func (r *EventRecorder) TrackImpression(ctx context.Context, ev models.Event) {
	ev.Type = models.EventImpression
	if ev.Name == "" {
		ev.Name = models.EventNameImpression
	}
	r.record(ctx, ev)
}

// TrackClick records a click. Clicks referencing an item or brand feed the
// bandit engine with the click reward.
func (r *EventRecorder) TrackClick(ctx context.Context, ev models.Event) {
	ev.Type = models.EventClick
	if ev.Name == "" {
		ev.Name = models.EventNameClick
	}
	r.record(ctx, ev)
}

// TrackAddToCart records an add-to-cart conversion.
func (r *EventRecorder) TrackAddToCart(ctx context.Context, ev models.Event) {
	ev.Type = models.EventConversion
	if ev.Name == "" {
		ev.Name = models.EventNameAddToCart
	}
	r.record(ctx, ev)
}

// TrackPurchase records a purchase conversion. Value should carry the order
// amount so revenue metrics are attributable.
func (r *EventRecorder) TrackPurchase(ctx context.Context, ev models.Event) {
	ev.Type = models.EventConversion
	if ev.Name == "" {
		ev.Name = models.EventNamePurchase
	}
	r.record(ctx, ev)
}

func (r *EventRecorder) record(ctx context.Context, ev models.Event) {
	log := logging.Ctx(ctx)

	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).
			Str("event_type", string(ev.Type)).
			Str("event_name", ev.Name).
			Msg("dropping invalid event")
		metrics.RecordEventRejected("validation")
		return
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := r.store.InsertEvent(ctx, &ev); err != nil {
		log.Error().Err(err).
			Str("event_type", string(ev.Type)).
			Int64("experiment_id", ev.ExperimentID).
			Msg("failed to append event")
		metrics.RecordEventRejected("storage")
		return
	}
	metrics.RecordEvent(string(ev.Type))

	r.accumulatePosition(ctx, ev)
	r.enqueueRewards(ctx, ev)
}

// accumulatePosition bumps the daily position_performance accumulator for
// positional events. Best effort: the event row is already durable.
func (r *EventRecorder) accumulatePosition(ctx context.Context, ev models.Event) {
	if ev.Position <= 0 {
		return
	}
	day := ev.CreatedAt.UTC().Truncate(24 * time.Hour)
	if err := r.store.UpsertPositionPerformance(ctx, ev.ExperimentID, ev.Position, day, ev.Type, ev.Value); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Int64("experiment_id", ev.ExperimentID).
			Int("position", ev.Position).
			Msg("failed to accumulate position performance")
	}
}

func (r *EventRecorder) enqueueRewards(ctx context.Context, ev models.Event) {
	if r.rewards == nil {
		return
	}
	for _, sig := range signalsForEvent(r.cfg, ev) {
		if err := r.rewards.Enqueue(ctx, sig); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("arm_type", string(sig.ArmType)).
				Str("arm_id", sig.ArmID).
				Msg("failed to enqueue reward signal")
		}
	}
}
