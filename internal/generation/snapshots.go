package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/cadence/internal/cache"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

var ErrSnapshotNotFound = errors.New("generation snapshot not found")

// Snapshots keeps the most recent update of each job so a client that lost its
// realtime connection can re-sync by polling.
type Snapshots struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewSnapshots stores snapshots in c, each kept for ttl after its last write.
func NewSnapshots(c cache.Cache, ttl time.Duration) *Snapshots {
	return &Snapshots{cache: c, ttl: ttl}
}

// Record overwrites the snapshot for u.ID.
func (s *Snapshots) Record(ctx context.Context, u models.GenerationUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.cache.Set(ctx, cache.SnapshotKey(u.ID), data, s.ttl); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Latest returns the last recorded update for id.
func (s *Snapshots) Latest(ctx context.Context, id string) (*models.GenerationUpdate, error) {
	data, found, err := s.cache.Get(ctx, cache.SnapshotKey(id))
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !found {
		return nil, ErrSnapshotNotFound
	}
	var u models.GenerationUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &u, nil
}
