package repository

import (
	"context"

	"github.com/utafrali/catalog-indexer/internal/domain"
)

// LockRepository stores per-catalog mutual-exclusion records.
type LockRepository interface {
	// Create stores lock unless a record already exists for its catalog key.
	// It reports whether the lock was created.
	Create(ctx context.Context, lock *domain.Lock) (bool, error)

	// Get returns the lock for key, or an ErrNotFound error.
	Get(ctx context.Context, key string) (*domain.Lock, error)

	// Delete removes the lock for key. Missing locks are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfOwner removes the lock for key only while it still carries lockID.
	DeleteIfOwner(ctx context.Context, key, lockID string) (bool, error)
}

// CheckpointRepository persists checkpoint records.
type CheckpointRepository interface {
	// Get returns the record for key, or an ErrNotFound error.
	Get(ctx context.Context, key string) (*domain.CheckpointRecord, error)

	// Save inserts or replaces the record for rec.CatalogKey.
	Save(ctx context.Context, rec *domain.CheckpointRecord) error

	// Delete removes the record for key. Missing records are not an error.
	Delete(ctx context.Context, key string) error
}

// RankRepository looks up best-seller ranks for a catalog.
type RankRepository interface {
	// Ranks returns normalized product id -> rank. A catalog without ranks
	// yields an empty map.
	Ranks(ctx context.Context, key string) (map[string]int, error)
}
