// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
)

// TopicRewards is the in-process topic carrying reward signals from the
// recorder to the forwarder.
const TopicRewards = "rewards"

// metadataEntryID carries the WAL entry ID alongside each pipeline message
// so the forwarder can confirm the entry after the arm update lands.
const metadataEntryID = "entry_id"

// Pipeline couples the durable reward WAL with the in-process pub/sub
// channel. Enqueue writes the signal to the WAL first; only then is the
// message published. A publish failure is not an error for the caller:
// the retry loop replays the entry from the WAL.
type Pipeline struct {
	wal    *RewardWAL
	pubsub *gochannel.GoChannel
}

// NewPipeline creates the reward pipeline on top of an open WAL.
// bufferSize bounds the subscriber channel depth; 0 means unbuffered.
func NewPipeline(wal *RewardWAL, bufferSize int) *Pipeline {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(bufferSize)},
		newWatermillLogger(logging.Logger()),
	)
	return &Pipeline{wal: wal, pubsub: pubsub}
}

// Enqueue durably records a reward signal and hands it to the forwarder.
func (p *Pipeline) Enqueue(ctx context.Context, sig RewardSignal) error {
	entryID, err := p.wal.Write(ctx, &sig)
	if err != nil {
		metrics.WALWriteErrors.Inc()
		return fmt.Errorf("write reward to WAL: %w", err)
	}

	payload, err := json.Marshal(&sig)
	if err != nil {
		return fmt.Errorf("marshal reward signal: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataEntryID, entryID)

	if err := p.pubsub.Publish(TopicRewards, msg); err != nil {
		// The entry is durable; the retry loop will pick it up.
		logging.Ctx(ctx).Warn().Err(err).Str("entry_id", entryID).
			Msg("reward publish failed, deferring to WAL retry")
		return nil
	}

	metrics.PipelinePublished.WithLabelValues(TopicRewards).Inc()
	return nil
}

// Subscribe returns the reward message stream for the forwarder.
func (p *Pipeline) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return p.pubsub.Subscribe(ctx, TopicRewards)
}

// Close shuts down the pub/sub channel. The WAL is owned by the caller and
// closed separately.
func (p *Pipeline) Close() error {
	return p.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermillLogger {
	return watermillLogger{logger: logger.With().Str("component", "pipeline").Logger()}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), fields).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return watermillLogger{logger: logger}
}

func (l watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
