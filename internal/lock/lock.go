// Package lock guards indexing runs with one distributed lock per catalog key.
//
// Every operation fails open: when the lock store is unreachable, Acquire
// succeeds and IsLocked reports false, so an outage of the store never blocks
// indexing.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/repository"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// Manager acquires and releases catalog locks.
type Manager struct {
	locks       repository.LockRepository
	checkpoints repository.CheckpointRepository
	logger      *slog.Logger
	ttl         time.Duration
	staleAfter  time.Duration
	now         func() time.Time

	mu    sync.Mutex
	owned map[string]string // catalog key -> lock id created by this manager
}

// NewManager creates a lock manager. The checkpoint repository is consulted
// for staleness; the store holding locks is the lock repository.
func NewManager(locks repository.LockRepository, checkpoints repository.CheckpointRepository, logger *slog.Logger) *Manager {
	return &Manager{
		locks:       locks,
		checkpoints: checkpoints,
		logger:      logger,
		ttl:         domain.LockTTL,
		staleAfter:  domain.LockStaleAfter,
		now:         time.Now,
		owned:       make(map[string]string),
	}
}

// Acquire creates the lock for key. It returns false only when a live lock
// held by someone else exists. An expired lock is replaced.
func (m *Manager) Acquire(ctx context.Context, key string) bool {
	now := m.now().UTC()

	existing, err := m.locks.Get(ctx, key)
	switch {
	case err == nil && !existing.IsExpired(now):
		m.logger.InfoContext(ctx, "catalog lock held by another run",
			slog.String("catalog_key", key),
			slog.String("lock_id", existing.LockID),
			slog.Time("expires_at", existing.ExpiresAt),
		)
		return false
	case err == nil:
		m.logger.InfoContext(ctx, "replacing expired catalog lock",
			slog.String("catalog_key", key),
			slog.String("lock_id", existing.LockID),
		)
		if err := m.locks.Delete(ctx, key); err != nil {
			m.logger.WarnContext(ctx, "failed to delete expired lock",
				slog.String("catalog_key", key),
				slog.String("error", err.Error()),
			)
		}
	case !errors.Is(err, apperrors.ErrNotFound):
		m.logger.WarnContext(ctx, "lock store unavailable, proceeding without lock",
			slog.String("catalog_key", key),
			slog.String("error", err.Error()),
		)
		return true
	}

	lock := &domain.Lock{
		CatalogKey: key,
		LockID:     uuid.NewString(),
		StartedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	created, err := m.locks.Create(ctx, lock)
	if err != nil {
		m.logger.WarnContext(ctx, "lock store unavailable, proceeding without lock",
			slog.String("catalog_key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !created {
		m.logger.InfoContext(ctx, "lost race for catalog lock", slog.String("catalog_key", key))
		return false
	}

	m.mu.Lock()
	m.owned[key] = lock.LockID
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "catalog lock acquired",
		slog.String("catalog_key", key),
		slog.String("lock_id", lock.LockID),
	)
	return true
}

// Release deletes the lock for key. A lock created by this manager is only
// deleted while it still carries the same lock id. Deleting a missing lock
// is not an error.
func (m *Manager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	lockID, owned := m.owned[key]
	delete(m.owned, key)
	m.mu.Unlock()

	if !owned {
		return m.locks.Delete(ctx, key)
	}

	deleted, err := m.locks.DeleteIfOwner(ctx, key, lockID)
	if err != nil {
		return err
	}
	if !deleted {
		m.logger.WarnContext(ctx, "catalog lock was replaced before release",
			slog.String("catalog_key", key),
			slog.String("lock_id", lockID),
		)
	}
	return nil
}

// IsLocked reports whether a live, non-stale lock exists for key. A stale
// lock is released as a side effect.
func (m *Manager) IsLocked(ctx context.Context, key string) bool {
	existing, err := m.locks.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.WarnContext(ctx, "lock store unavailable, reporting unlocked",
				slog.String("catalog_key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if existing.IsExpired(m.now()) {
		return false
	}

	// A run saves its first checkpoint only after the debounce window, so a
	// young lock is live regardless of what the previous run left behind.
	if m.now().Sub(existing.StartedAt) <= m.staleAfter {
		return true
	}

	if m.IsLockStale(ctx, key) {
		m.logger.InfoContext(ctx, "releasing stale catalog lock",
			slog.String("catalog_key", key),
			slog.String("lock_id", existing.LockID),
		)
		if _, err := m.locks.DeleteIfOwner(ctx, key, existing.LockID); err != nil {
			m.logger.WarnContext(ctx, "failed to release stale lock",
				slog.String("catalog_key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}

// IsLockStale reports whether the run behind a lock is no longer making
// progress: its checkpoint is missing, terminal, or in progress without an
// update for the stale window.
func (m *Manager) IsLockStale(ctx context.Context, key string) bool {
	rec, err := m.checkpoints.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.WarnContext(ctx, "checkpoint store unavailable, treating lock as stale",
				slog.String("catalog_key", key),
				slog.String("error", err.Error()),
			)
		}
		return true
	}

	if rec.Data.Status.IsTerminal() {
		return true
	}
	return m.now().Sub(rec.UpdatedAt) > m.staleAfter
}
