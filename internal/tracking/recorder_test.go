// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/models"
)

type positionUpsert struct {
	experimentID int64
	position     int
	eventType    models.EventType
	value        float64
}

type fakeEventStore struct {
	mu        sync.Mutex
	events    []models.Event
	positions []positionUpsert
	insertErr error
}

func (s *fakeEventStore) InsertEvent(ctx context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeEventStore) UpsertPositionPerformance(ctx context.Context, experimentID int64, position int, day time.Time, eventType models.EventType, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, positionUpsert{experimentID, position, eventType, value})
	return nil
}

type fakeRewardQueue struct {
	mu      sync.Mutex
	signals []RewardSignal
	err     error
}

func (q *fakeRewardQueue) Enqueue(ctx context.Context, sig RewardSignal) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.signals = append(q.signals, sig)
	return nil
}

func newTestRecorder() (*EventRecorder, *fakeEventStore, *fakeRewardQueue) {
	store := &fakeEventStore{}
	queue := &fakeRewardQueue{}
	rec := NewEventRecorder(store, queue, config.BanditConfig{})
	return rec, store, queue
}

func baseEvent() models.Event {
	return models.Event{
		SubjectID:    "user_1",
		SessionID:    "sess_1",
		ExperimentID: 1,
		VariantID:    2,
	}
}

func TestTrackClickAppendsAndRewards(t *testing.T) {
	rec, store, queue := newTestRecorder()

	ev := baseEvent()
	ev.ItemID = "sku_1"
	ev.BrandID = "acme"
	rec.TrackClick(context.Background(), ev)

	if len(store.events) != 1 {
		t.Fatalf("stored %d events, want 1", len(store.events))
	}
	got := store.events[0]
	if got.Type != models.EventClick || got.Name != models.EventNameClick {
		t.Errorf("event type/name = %s/%s", got.Type, got.Name)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}

	if len(queue.signals) != 2 {
		t.Fatalf("enqueued %d signals, want item and brand", len(queue.signals))
	}
	if queue.signals[0].ArmID != "sku_1" || queue.signals[1].ArmID != "acme" {
		t.Errorf("signal arms = %s, %s", queue.signals[0].ArmID, queue.signals[1].ArmID)
	}
}

func TestTrackImpressionDoesNotReward(t *testing.T) {
	rec, store, queue := newTestRecorder()

	ev := baseEvent()
	ev.ItemID = "sku_1"
	rec.TrackImpression(context.Background(), ev)

	if len(store.events) != 1 {
		t.Fatalf("stored %d events, want 1", len(store.events))
	}
	if store.events[0].Type != models.EventImpression {
		t.Errorf("event type = %s", store.events[0].Type)
	}
	if len(queue.signals) != 0 {
		t.Errorf("impression enqueued %d reward signals", len(queue.signals))
	}
}

func TestTrackConversionNames(t *testing.T) {
	rec, store, _ := newTestRecorder()
	ctx := context.Background()

	rec.TrackAddToCart(ctx, baseEvent())
	rec.TrackPurchase(ctx, baseEvent())

	if len(store.events) != 2 {
		t.Fatalf("stored %d events, want 2", len(store.events))
	}
	if store.events[0].Name != models.EventNameAddToCart {
		t.Errorf("add-to-cart name = %s", store.events[0].Name)
	}
	if store.events[1].Name != models.EventNamePurchase {
		t.Errorf("purchase name = %s", store.events[1].Name)
	}
	for _, ev := range store.events {
		if ev.Type != models.EventConversion {
			t.Errorf("%s type = %s, want conversion", ev.Name, ev.Type)
		}
	}
}

func TestTrackDropsInvalidEvent(t *testing.T) {
	rec, store, queue := newTestRecorder()

	// Missing attribution: no experiment ID.
	rec.TrackClick(context.Background(), models.Event{SubjectID: "user_1", VariantID: 2, ItemID: "sku_1"})

	if len(store.events) != 0 {
		t.Errorf("invalid event was stored")
	}
	if len(queue.signals) != 0 {
		t.Errorf("invalid event produced reward signals")
	}
}

func TestTrackSurvivesStoreFailure(t *testing.T) {
	store := &fakeEventStore{insertErr: errors.New("disk full")}
	queue := &fakeRewardQueue{}
	rec := NewEventRecorder(store, queue, config.BanditConfig{})

	ev := baseEvent()
	ev.ItemID = "sku_1"
	rec.TrackClick(context.Background(), ev)

	// The caller saw no error (Track has no error return) and the failed
	// append produced no reward signal.
	if len(queue.signals) != 0 {
		t.Errorf("failed append enqueued %d reward signals", len(queue.signals))
	}
}

func TestTrackSurvivesQueueFailure(t *testing.T) {
	store := &fakeEventStore{}
	queue := &fakeRewardQueue{err: errors.New("wal closed")}
	rec := NewEventRecorder(store, queue, config.BanditConfig{})

	ev := baseEvent()
	ev.ItemID = "sku_1"
	rec.TrackClick(context.Background(), ev)

	// The event row still lands even when reward delivery fails.
	if len(store.events) != 1 {
		t.Errorf("stored %d events, want 1", len(store.events))
	}
}

func TestPositionalEventsAccumulatePerformance(t *testing.T) {
	rec, store, _ := newTestRecorder()
	ctx := context.Background()

	positional := baseEvent()
	positional.Position = 3
	positional.Value = 40.0
	rec.TrackPurchase(ctx, positional)
	rec.TrackImpression(ctx, positional)

	flat := baseEvent()
	rec.TrackClick(ctx, flat)

	if len(store.positions) != 2 {
		t.Fatalf("accumulated %d position rows, want 2", len(store.positions))
	}
	first := store.positions[0]
	if first.position != 3 || first.eventType != models.EventConversion || first.value != 40.0 {
		t.Errorf("first accumulation = %+v", first)
	}
}

func TestNilRewardQueue(t *testing.T) {
	store := &fakeEventStore{}
	rec := NewEventRecorder(store, nil, config.BanditConfig{})

	ev := baseEvent()
	ev.ItemID = "sku_1"
	rec.TrackClick(context.Background(), ev)

	if len(store.events) != 1 {
		t.Errorf("stored %d events, want 1", len(store.events))
	}
}
