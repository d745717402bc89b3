// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/metrics"
)

// Key prefixes partition the Badger keyspace by entry state.
const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
	prefixParked    = "parked:"
)

// WAL errors.
var (
	ErrWALClosed     = errors.New("reward WAL is closed")
	ErrNilSignal     = errors.New("reward signal cannot be nil")
	ErrEmptyEntryID  = errors.New("entry ID cannot be empty")
	ErrEntryNotFound = errors.New("entry not found")
)

// Entry is a single durable reward signal awaiting application to arm state.
type Entry struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Confirmed     bool            `json:"confirmed"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
}

// Signal deserializes the entry payload.
func (e *Entry) Signal() (*RewardSignal, error) {
	var sig RewardSignal
	if err := json.Unmarshal(e.Payload, &sig); err != nil {
		return nil, fmt.Errorf("unmarshal reward signal: %w", err)
	}
	return &sig, nil
}

// WALStats contains reward WAL counters for monitoring.
type WALStats struct {
	PendingCount   int64
	ConfirmedCount int64
	ParkedCount    int64
	TotalWrites    int64
	TotalConfirms  int64
	TotalRetries   int64
}

// RewardWAL persists reward signals to BadgerDB before they are applied to
// bandit arm state. Entries survive process crashes; the retry loop replays
// anything unconfirmed on the next tick.
type RewardWAL struct {
	db *badger.DB

	totalWrites   atomic.Int64
	totalConfirms atomic.Int64
	totalRetries  atomic.Int64

	mu     sync.RWMutex
	closed bool

	// Entry IDs currently being applied, so the live forwarder and the
	// retry loop never race on the same entry.
	processing sync.Map
}

// OpenWAL opens (or creates) the reward WAL at path. An empty path opens an
// in-memory Badger instance, used by tests.
func OpenWAL(path string) (*RewardWAL, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open reward WAL: %w", err)
	}

	logging.Info().Str("path", path).Bool("in_memory", path == "").Msg("reward WAL opened")
	return &RewardWAL{db: db}, nil
}

// Write persists a reward signal and returns its entry ID. The entry stays
// pending until Confirm is called after the arm update succeeds.
func (w *RewardWAL) Write(ctx context.Context, sig *RewardSignal) (string, error) {
	if err := w.checkOpen(); err != nil {
		return "", err
	}
	if sig == nil {
		return "", ErrNilSignal
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("marshal reward signal: %w", err)
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	key := []byte(prefixPending + entry.ID)
	if err := w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}

	w.totalWrites.Add(1)
	metrics.WALPendingEntries.Inc()
	return entry.ID, nil
}

// Confirm marks an entry as applied to arm state. Confirmed entries are
// purged by the next compaction pass.
func (w *RewardWAL) Confirm(ctx context.Context, entryID string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	pendingKey := []byte(prefixPending + entryID)
	confirmedKey := []byte(prefixConfirmed + entryID)

	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, pendingKey)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		entry.Confirmed = true
		entry.ConfirmedAt = &now

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal confirmed entry: %w", err)
		}
		if err := txn.Set(confirmedKey, data); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return err
	}

	w.totalConfirms.Add(1)
	metrics.WALPendingEntries.Dec()
	return nil
}

// UpdateAttempt records a failed application attempt against an entry.
func (w *RewardWAL) UpdateAttempt(ctx context.Context, entryID, lastError string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	key := []byte(prefixPending + entryID)
	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, key)
		if err != nil {
			return err
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}

	w.totalRetries.Add(1)
	return nil
}

// Park moves an entry that exhausted its retry budget out of the retry path.
// Parked entries are retained for operator inspection and never replayed.
func (w *RewardWAL) Park(ctx context.Context, entryID string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	pendingKey := []byte(prefixPending + entryID)
	parkedKey := []byte(prefixParked + entryID)

	err := w.db.Update(func(txn *badger.Txn) error {
		entry, err := readEntry(txn, pendingKey)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal parked entry: %w", err)
		}
		if err := txn.Set(parkedKey, data); err != nil {
			return fmt.Errorf("set parked entry: %w", err)
		}
		return txn.Delete(pendingKey)
	})
	if err != nil {
		return err
	}

	metrics.WALPendingEntries.Dec()
	return nil
}

// GetPending returns all unconfirmed entries. Used on startup recovery and
// by the retry loop. The returned slice is a consistent snapshot.
func (w *RewardWAL) GetPending(ctx context.Context) ([]*Entry, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).
					Msg("reward WAL skipping malformed entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// TryClaim attempts to take exclusive processing rights for an entry.
// Callers must Release the claim when done.
func (w *RewardWAL) TryClaim(entryID string) bool {
	_, alreadyClaimed := w.processing.LoadOrStore(entryID, time.Now())
	return !alreadyClaimed
}

// Release gives up a claim taken with TryClaim.
func (w *RewardWAL) Release(entryID string) {
	w.processing.Delete(entryID)
}

// Stats returns current WAL counters. Counting iterates the keyspace without
// prefetching values.
func (w *RewardWAL) Stats() WALStats {
	if err := w.checkOpen(); err != nil {
		return WALStats{}
	}

	var pending, confirmed, parked int64
	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pending = countPrefix(it, prefixPending)
		confirmed = countPrefix(it, prefixConfirmed)
		parked = countPrefix(it, prefixParked)
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("reward WAL stats count failed")
	}

	metrics.WALPendingEntries.Set(float64(pending))

	return WALStats{
		PendingCount:   pending,
		ConfirmedCount: confirmed,
		ParkedCount:    parked,
		TotalWrites:    w.totalWrites.Load(),
		TotalConfirms:  w.totalConfirms.Load(),
		TotalRetries:   w.totalRetries.Load(),
	}
}

// Compact purges all confirmed entries and runs Badger value-log GC.
// Returns the number of entries removed.
func (w *RewardWAL) Compact(ctx context.Context) (int64, error) {
	if err := w.checkOpen(); err != nil {
		return 0, err
	}

	var deleted int64
	err := w.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		// Collect first; Badger forbids deleting under an open iterator.
		var keys [][]byte
		prefix := []byte(prefixConfirmed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := make([]byte, len(it.Item().Key()))
			copy(key, it.Item().Key())
			keys = append(keys, key)
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("compact confirmed entries: %w", err)
	}

	for {
		err := w.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("value log GC: %w", err)
		}
	}

	if deleted > 0 {
		logging.Debug().Int64("deleted", deleted).Msg("reward WAL compaction removed confirmed entries")
	}
	return deleted, nil
}

// Close shuts down the WAL. Further operations return ErrWALClosed.
func (w *RewardWAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close reward WAL: %w", err)
	}
	logging.Info().Msg("reward WAL closed")
	return nil
}

func (w *RewardWAL) checkOpen() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWALClosed
	}
	return nil
}

func readEntry(txn *badger.Txn, key []byte) (*Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}

	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

func countPrefix(it *badger.Iterator, prefix string) int64 {
	var n int64
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}
