package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/pkg/database"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestRepo(t *testing.T) (*CheckpointRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewCheckpointRepository(mock), mock
}

func sampleRecord() *domain.CheckpointRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	cp := domain.NewCheckpoint()
	cp.LastProcessedLine = 1200
	cp.TotalLines = 4000
	cp.TotalIndexed = 310
	cp.TotalFailed = 1
	cp.FailedItems = []domain.FailedItem{
		{ID: "gid://shopify/Product/9", Line: 88, Error: "mapper_parsing_exception", RetryCount: 3},
	}
	cp.StartedAt = &now
	cp.Progress = cp.ComputeProgress()

	return &domain.CheckpointRecord{
		CatalogKey:   "acme",
		CheckpointID: "cp-001",
		Data:         cp,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(domain.CheckpointTTL),
	}
}

func checkpointColumns() []string {
	return []string{"catalog_key", "checkpoint_id", "data", "updated_at", "expires_at"}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestCheckpointRepository_Get_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	rec := sampleRecord()
	data, err := json.Marshal(rec.Data)
	require.NoError(t, err)

	rows := pgxmock.NewRows(checkpointColumns()).
		AddRow(rec.CatalogKey, rec.CheckpointID, data, rec.UpdatedAt, rec.ExpiresAt)

	mock.ExpectQuery("SELECT .+ FROM indexing_checkpoints WHERE catalog_key").
		WithArgs("acme").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "cp-001", got.CheckpointID)
	assert.Equal(t, int64(1200), got.Data.LastProcessedLine)
	assert.Equal(t, domain.CheckpointInProgress, got.Data.Status)
	assert.Equal(t, 30, got.Data.Progress)
	require.Len(t, got.Data.FailedItems, 1)
	assert.Equal(t, 3, got.Data.FailedItems[0].RetryCount)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_Get_NullFailedItems(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	now := time.Now().UTC()
	rows := pgxmock.NewRows(checkpointColumns()).
		AddRow("acme", "cp-001", []byte(`{"lastProcessedLine":5,"status":"failed","failedItems":null}`), now, now.Add(time.Hour))

	mock.ExpectQuery("SELECT .+ FROM indexing_checkpoints").
		WithArgs("acme").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointFailed, got.Data.Status)
	assert.NotNil(t, got.Data.FailedItems)
	assert.Empty(t, got.Data.FailedItems)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_Get_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM indexing_checkpoints").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.Get(context.Background(), "missing")
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_Get_CorruptData(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	now := time.Now().UTC()
	rows := pgxmock.NewRows(checkpointColumns()).
		AddRow("acme", "cp-001", []byte(`{not json`), now, now)

	mock.ExpectQuery("SELECT .+ FROM indexing_checkpoints").
		WithArgs("acme").
		WillReturnRows(rows)

	_, err := repo.Get(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal checkpoint data")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

func TestCheckpointRepository_Save_Upserts(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	rec := sampleRecord()
	data, err := json.Marshal(rec.Data)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO indexing_checkpoints .+ ON CONFLICT \\(catalog_key\\) DO UPDATE").
		WithArgs(rec.CatalogKey, rec.CheckpointID, data, rec.UpdatedAt, rec.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Save(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_Save_ExecError(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO indexing_checkpoints").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := repo.Save(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save checkpoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestCheckpointRepository_Delete(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM indexing_checkpoints WHERE catalog_key").
		WithArgs("acme").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, repo.Delete(context.Background(), "acme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRepository_DeleteExpired(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM indexing_checkpoints WHERE expires_at").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
