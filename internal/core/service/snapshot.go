package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// SnapshotStore persists the recovery snapshot of the active call.
type SnapshotStore struct {
	repo port.SnapshotRepository
	now  func() time.Time
}

func NewSnapshotStore(repo port.SnapshotRepository) *SnapshotStore {
	return &SnapshotStore{repo: repo, now: time.Now}
}

func (s *SnapshotStore) Save(ctx context.Context, cfg domain.CallConfig, title string) error {
	data, err := json.Marshal(domain.NewSessionSnapshot(cfg, title, s.now()))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.repo.Put(ctx, domain.SnapshotKey, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Clear(ctx context.Context) error {
	if err := s.repo.Delete(ctx, domain.SnapshotKey); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when there is none. Expired or
// unreadable snapshots are removed and reported as absent.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.SessionSnapshot, error) {
	data, err := s.repo.Get(ctx, domain.SnapshotKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable session snapshot")
		return nil, s.Clear(ctx)
	}
	if snap.Expired(s.now()) {
		log.Debug().Str("call_id", snap.Config.CallID.String()).Msg("Discarding expired session snapshot")
		return nil, s.Clear(ctx)
	}
	return &snap, nil
}
