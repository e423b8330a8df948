package repository

import (
	"context"
	"fmt"
	"time"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
	"CoinPull/pkg/cache"
)

const snapshotKeyPrefix = "snapshot:"

// SnapshotMirror copies pair snapshots into a cache so other processes can
// read current prices without calling this service.
type SnapshotMirror struct {
	cache cache.Service
	ttl   time.Duration
}

var _ repository.SnapshotMirror = (*SnapshotMirror)(nil)

// NewSnapshotMirror creates a mirror writing entries that expire after ttl.
func NewSnapshotMirror(c cache.Service, ttl time.Duration) *SnapshotMirror {
	return &SnapshotMirror{cache: c, ttl: ttl}
}

func (m *SnapshotMirror) Put(ctx context.Context, s models.Snapshot) error {
	if err := m.cache.Set(ctx, snapshotKeyPrefix+s.Key, s, m.ttl); err != nil {
		return fmt.Errorf("mirror snapshot %s: %w", s.Key, err)
	}
	return nil
}

func (m *SnapshotMirror) Get(ctx context.Context, key string) (models.Snapshot, error) {
	var s models.Snapshot
	if err := m.cache.Get(ctx, snapshotKeyPrefix+key, &s); err != nil {
		return models.Snapshot{}, err
	}
	return s, nil
}

// GetMany returns the mirrored snapshots of keys; missing keys are omitted.
func (m *SnapshotMirror) GetMany(ctx context.Context, keys ...string) (map[string]models.Snapshot, error) {
	wrapped := make([]string, len(keys))
	for i, k := range keys {
		wrapped[i] = snapshotKeyPrefix + k
	}
	raw, err := cache.MGetTyped[models.Snapshot](ctx, m.cache, wrapped...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Snapshot, len(raw))
	for _, s := range raw {
		out[s.Key] = s
	}
	return out, nil
}

// Name implements middleware.Sink.
func (m *SnapshotMirror) Name() string { return "redis" }

// Accept implements middleware.Sink.
func (m *SnapshotMirror) Accept(models.Notification) bool { return true }

// Write implements middleware.Sink.
func (m *SnapshotMirror) Write(ctx context.Context, n models.Notification) error {
	return m.Put(ctx, n.Snapshot)
}
