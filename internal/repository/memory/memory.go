// Package memory provides in-process repository implementations used by
// single-node deployments without Redis or PostgreSQL, and by tests.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/catalog-indexer/internal/domain"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// LockRepository is a map-backed repository.LockRepository.
type LockRepository struct {
	mu    sync.Mutex
	locks map[string]domain.Lock
}

// NewLockRepository creates an empty lock repository.
func NewLockRepository() *LockRepository {
	return &LockRepository{locks: make(map[string]domain.Lock)}
}

// Create stores lock unless a record exists for its catalog key. Expiry is
// left to the caller, as with the Redis implementation after TTL elapses.
func (r *LockRepository) Create(_ context.Context, lock *domain.Lock) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[lock.CatalogKey]; ok {
		return false, nil
	}
	r.locks[lock.CatalogKey] = *lock
	return true, nil
}

// Get returns the lock for key.
func (r *LockRepository) Get(_ context.Context, key string) (*domain.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		return nil, apperrors.NotFound("lock", key)
	}
	return &l, nil
}

// Delete removes the lock for key.
func (r *LockRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, key)
	return nil
}

// DeleteIfOwner removes the lock for key while it still carries lockID.
func (r *LockRepository) DeleteIfOwner(_ context.Context, key, lockID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok || l.LockID != lockID {
		return false, nil
	}
	delete(r.locks, key)
	return true, nil
}

// CheckpointRepository is a map-backed repository.CheckpointRepository.
type CheckpointRepository struct {
	mu      sync.Mutex
	records map[string]domain.CheckpointRecord
	saves   int
}

// NewCheckpointRepository creates an empty checkpoint repository.
func NewCheckpointRepository() *CheckpointRepository {
	return &CheckpointRepository{records: make(map[string]domain.CheckpointRecord)}
}

// Get returns a copy of the record for key.
func (r *CheckpointRepository) Get(_ context.Context, key string) (*domain.CheckpointRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, apperrors.NotFound("checkpoint", key)
	}
	rec.Data = rec.Data.Clone()
	return &rec, nil
}

// Save stores a copy of rec.
func (r *CheckpointRepository) Save(_ context.Context, rec *domain.CheckpointRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Data = rec.Data.Clone()
	r.records[rec.CatalogKey] = cp
	r.saves++
	return nil
}

// Delete removes the record for key.
func (r *CheckpointRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

// Saves returns how many times Save was called.
func (r *CheckpointRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// RankRepository serves fixed ranks per catalog key.
type RankRepository struct {
	mu    sync.RWMutex
	ranks map[string]map[string]int
}

// NewRankRepository creates an empty rank repository.
func NewRankRepository() *RankRepository {
	return &RankRepository{ranks: make(map[string]map[string]int)}
}

// Set replaces the ranks of a catalog. Ids are normalized.
func (r *RankRepository) Set(key string, ranks map[string]int) {
	normalized := make(map[string]int, len(ranks))
	for id, rank := range ranks {
		normalized[domain.NormalizeID(id)] = rank
	}
	r.mu.Lock()
	r.ranks[key] = normalized
	r.mu.Unlock()
}

// Ranks returns a copy of the ranks for key.
func (r *RankRepository) Ranks(_ context.Context, key string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.ranks[key]))
	for id, rank := range r.ranks[key] {
		out[id] = rank
	}
	return out, nil
}
