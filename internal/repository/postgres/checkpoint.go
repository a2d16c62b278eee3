package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/pkg/database"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// CheckpointRepository implements repository.CheckpointRepository using PostgreSQL.
type CheckpointRepository struct {
	db database.DBTX
}

// NewCheckpointRepository creates a new PostgreSQL-backed checkpoint repository.
func NewCheckpointRepository(db database.DBTX) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get retrieves the checkpoint record for a catalog key.
func (r *CheckpointRepository) Get(ctx context.Context, key string) (rec *domain.CheckpointRecord, err error) {
	query := `
		SELECT catalog_key, checkpoint_id, data, updated_at, expires_at
		FROM indexing_checkpoints
		WHERE catalog_key = $1`

	ctx, end := database.TraceQuery(ctx, "checkpoint.get", query)
	defer func() { end(err) }()

	var (
		record domain.CheckpointRecord
		data   []byte
	)
	err = r.db.QueryRow(ctx, query, key).Scan(
		&record.CatalogKey,
		&record.CheckpointID,
		&data,
		&record.UpdatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("checkpoint", key)
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	record.Data = domain.NewCheckpoint()
	if err := json.Unmarshal(data, &record.Data); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint data: %w", err)
	}
	if record.Data.FailedItems == nil {
		record.Data.FailedItems = []domain.FailedItem{}
	}

	return &record, nil
}

// Save inserts the record or replaces the existing one for the same catalog key.
func (r *CheckpointRepository) Save(ctx context.Context, rec *domain.CheckpointRecord) (err error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal checkpoint data: %w", err)
	}

	query := `
		INSERT INTO indexing_checkpoints (catalog_key, checkpoint_id, data, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (catalog_key) DO UPDATE SET
			checkpoint_id = EXCLUDED.checkpoint_id,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`

	ctx, end := database.TraceQuery(ctx, "checkpoint.save", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		rec.CatalogKey,
		rec.CheckpointID,
		data,
		rec.UpdatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return nil
}

// Delete removes the checkpoint record for a catalog key.
func (r *CheckpointRepository) Delete(ctx context.Context, key string) (err error) {
	query := `DELETE FROM indexing_checkpoints WHERE catalog_key = $1`

	ctx, end := database.TraceQuery(ctx, "checkpoint.delete", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	return nil
}

// DeleteExpired removes every record whose TTL elapsed before now and returns
// the number of rows removed.
func (r *CheckpointRepository) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	query := `DELETE FROM indexing_checkpoints WHERE expires_at <= $1`

	ctx, end := database.TraceQuery(ctx, "checkpoint.delete_expired", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired checkpoints: %w", err)
	}

	return tag.RowsAffected(), nil
}
