package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sentinel-ueba/internal/behavior"
)

const (
	profileKeyPrefix = "ueba:profile:"
	profileIndexKey  = "ueba:profiles"
)

// ProfileStore checkpoints behavior profiles to a KV backend as JSON
// snapshots, one key per user plus a set index.
type ProfileStore struct {
	kv     KV
	ttl    time.Duration
	logger *slog.Logger

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewProfileStore creates a profile store. A zero ttl keeps snapshots
// until overwritten.
func NewProfileStore(kv KV, ttl time.Duration, logger *slog.Logger) *ProfileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileStore{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "profile_store"),
		stopCh: make(chan struct{}),
	}
}

// Save writes every profile snapshot from the engine.
func (s *ProfileStore) Save(ctx context.Context, engine *behavior.Engine) error {
	snapshots := engine.Export()
	saved := 0
	var firstErr error
	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to marshal profile %s: %w", snapshot.UserID, err)
			}
			continue
		}
		if err := s.kv.Set(ctx, profileKeyPrefix+snapshot.UserID, data, s.ttl); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to save profile %s: %w", snapshot.UserID, err)
			}
			continue
		}
		if err := s.kv.SAdd(ctx, profileIndexKey, snapshot.UserID); err != nil && firstErr == nil {
			firstErr = err
		}
		saved++
	}
	s.logger.Debug("saved profiles", "count", saved, "total", len(snapshots))
	return firstErr
}

// Load restores all persisted profiles into the engine. Missing or
// corrupt snapshots are skipped.
func (s *ProfileStore) Load(ctx context.Context, engine *behavior.Engine) (int, error) {
	userIDs, err := s.kv.SMembers(ctx, profileIndexKey)
	if err != nil {
		return 0, fmt.Errorf("failed to list profiles: %w", err)
	}

	var snapshots []*behavior.Snapshot
	for _, userID := range userIDs {
		data, err := s.kv.Get(ctx, profileKeyPrefix+userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Expired snapshot still in the index.
				s.kv.SRem(ctx, profileIndexKey, userID)
				continue
			}
			s.logger.Warn("failed to load profile", "user_id", userID, "error", err)
			continue
		}
		var snapshot behavior.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Warn("skipping corrupt profile snapshot", "user_id", userID, "error", err)
			continue
		}
		snapshots = append(snapshots, &snapshot)
	}

	engine.Import(snapshots)
	s.logger.Info("restored profiles", "count", len(snapshots))
	return len(snapshots), nil
}

// Delete removes one user's snapshot.
func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, profileKeyPrefix+userID); err != nil {
		return err
	}
	return s.kv.SRem(ctx, profileIndexKey, userID)
}

// StartCheckpointing saves profiles on a fixed interval until Close.
func (s *ProfileStore) StartCheckpointing(ctx context.Context, engine *behavior.Engine, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.Save(ctx, engine); err != nil {
					s.logger.Error("profile checkpoint failed", "error", err)
				}
			}
		}
	}()
}

// Close stops checkpointing. It does not close the underlying KV.
func (s *ProfileStore) Close() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
