// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"time"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/models"
)

// Reward magnitudes used when the configuration leaves them unset.
const (
	defaultClickReward      = 1.0
	defaultConversionReward = 2.0
)

// RewardSignal is the unit of feedback flowing from the event log to the
// bandit arm state. One tracked event can fan out into multiple signals
// (one per referenced arm pool).
type RewardSignal struct {
	ExperimentID int64            `json:"experiment_id"`
	ArmType      models.ArmType   `json:"arm_type"`
	ArmID        string           `json:"arm_id"`
	ArmName      string           `json:"arm_name,omitempty"`
	EventType    models.EventType `json:"event_type"`
	Reward       float64          `json:"reward"`
	Success      bool             `json:"success"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// signalsForEvent derives the reward signals an event produces. Impressions
// carry no reward; clicks and conversions reward every arm pool the event
// references.
func signalsForEvent(cfg config.BanditConfig, ev models.Event) []RewardSignal {
	var reward float64
	switch ev.Type {
	case models.EventClick:
		reward = cfg.ClickReward
		if reward == 0 {
			reward = defaultClickReward
		}
	case models.EventConversion:
		reward = cfg.ConversionReward
		if reward == 0 {
			reward = defaultConversionReward
		}
	default:
		return nil
	}

	occurred := ev.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	var signals []RewardSignal
	if ev.ItemID != "" {
		signals = append(signals, RewardSignal{
			ExperimentID: ev.ExperimentID,
			ArmType:      models.ArmTypeItem,
			ArmID:        ev.ItemID,
			EventType:    ev.Type,
			Reward:       reward,
			Success:      true,
			OccurredAt:   occurred,
		})
	}
	if ev.BrandID != "" {
		signals = append(signals, RewardSignal{
			ExperimentID: ev.ExperimentID,
			ArmType:      models.ArmTypeBrand,
			ArmID:        ev.BrandID,
			EventType:    ev.Type,
			Reward:       reward,
			Success:      true,
			OccurredAt:   occurred,
		})
	}
	return signals
}
