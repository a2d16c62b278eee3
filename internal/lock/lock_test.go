package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/checkpoint"
	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/repository/memory"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type failingLocks struct{}

var errStore = errors.New("dial tcp: connection refused")

func (failingLocks) Create(context.Context, *domain.Lock) (bool, error) { return false, errStore }

func (failingLocks) Get(context.Context, string) (*domain.Lock, error) { return nil, errStore }

func (failingLocks) Delete(context.Context, string) error { return errStore }

func (failingLocks) DeleteIfOwner(context.Context, string, string) (bool, error) {
	return false, errStore
}

type testEnv struct {
	mgr         *Manager
	locks       *memory.LockRepository
	checkpoints *memory.CheckpointRepository
	now         time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		locks:       memory.NewLockRepository(),
		checkpoints: memory.NewCheckpointRepository(),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.mgr = NewManager(env.locks, env.checkpoints, slog.New(slog.NewTextHandler(io.Discard, nil)))
	env.mgr.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) saveCheckpoint(t *testing.T, status domain.CheckpointStatus, updatedAt time.Time) {
	t.Helper()
	cp := domain.NewCheckpoint()
	cp.Status = status
	require.NoError(t, e.checkpoints.Save(context.Background(), &domain.CheckpointRecord{
		CatalogKey: "acme",
		Data:       cp,
		UpdatedAt:  updatedAt,
		ExpiresAt:  updatedAt.Add(domain.CheckpointTTL),
	}))
}

// ---------------------------------------------------------------------------
// Acquire / Release
// ---------------------------------------------------------------------------

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.True(t, env.mgr.Acquire(ctx, "acme"))
	assert.False(t, env.mgr.Acquire(ctx, "acme"))

	// Other catalogs are independent.
	assert.True(t, env.mgr.Acquire(ctx, "globex"))

	require.NoError(t, env.mgr.Release(ctx, "acme"))
	assert.True(t, env.mgr.Acquire(ctx, "acme"))
}

func TestAcquire_ReplacesExpiredLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.locks.Create(ctx, &domain.Lock{
		CatalogKey: "acme",
		LockID:     "old",
		StartedAt:  env.now.Add(-3 * time.Hour),
		ExpiresAt:  env.now.Add(-time.Hour),
	})
	require.NoError(t, err)

	assert.True(t, env.mgr.Acquire(ctx, "acme"))

	got, err := env.locks.Get(ctx, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, "old", got.LockID)
	assert.Equal(t, env.now.Add(domain.LockTTL), got.ExpiresAt)
}

func TestAcquire_BlockedAfterTTLMinusEpsilon(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.True(t, env.mgr.Acquire(ctx, "acme"))

	other := NewManager(env.locks, env.checkpoints, env.mgr.logger)
	other.now = func() time.Time { return env.now.Add(domain.LockTTL - time.Second) }
	assert.False(t, other.Acquire(ctx, "acme"))

	other.now = func() time.Time { return env.now.Add(domain.LockTTL + time.Second) }
	assert.True(t, other.Acquire(ctx, "acme"))
}

func TestRelease_DoesNotDeleteReplacedLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.True(t, env.mgr.Acquire(ctx, "acme"))

	// Another process replaced the lock after ours expired.
	require.NoError(t, env.locks.Delete(ctx, "acme"))
	_, err := env.locks.Create(ctx, &domain.Lock{CatalogKey: "acme", LockID: "theirs", ExpiresAt: env.now.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, env.mgr.Release(ctx, "acme"))

	got, err := env.locks.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "theirs", got.LockID)
}

func TestRelease_MissingLockIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.mgr.Release(context.Background(), "acme"))
}

// ---------------------------------------------------------------------------
// Fail open
// ---------------------------------------------------------------------------

func TestFailOpen(t *testing.T) {
	mgr := NewManager(failingLocks{}, memory.NewCheckpointRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	assert.True(t, mgr.Acquire(ctx, "acme"))
	assert.False(t, mgr.IsLocked(ctx, "acme"))
}

// ---------------------------------------------------------------------------
// IsLocked / IsLockStale
// ---------------------------------------------------------------------------

func TestIsLocked(t *testing.T) {
	tests := []struct {
		name       string
		lockAge    time.Duration
		checkpoint *domain.CheckpointStatus
		updatedAgo time.Duration
		wantLocked bool
	}{
		{name: "no checkpoint is stale", lockAge: 10 * time.Minute, wantLocked: false},
		{name: "fresh in-progress checkpoint", lockAge: 10 * time.Minute, checkpoint: ptr(domain.CheckpointInProgress), updatedAgo: time.Minute, wantLocked: true},
		{name: "in-progress checkpoint idle too long", lockAge: 10 * time.Minute, checkpoint: ptr(domain.CheckpointInProgress), updatedAgo: 6 * time.Minute, wantLocked: false},
		{name: "successful checkpoint", lockAge: 10 * time.Minute, checkpoint: ptr(domain.CheckpointSuccess), updatedAgo: time.Second, wantLocked: false},
		{name: "failed checkpoint", lockAge: 10 * time.Minute, checkpoint: ptr(domain.CheckpointFailed), updatedAgo: time.Second, wantLocked: false},
		{name: "young lock without checkpoint", lockAge: 30 * time.Second, wantLocked: true},
		{name: "young lock over previous success", lockAge: time.Second, checkpoint: ptr(domain.CheckpointSuccess), updatedAgo: time.Hour, wantLocked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			require.True(t, env.mgr.Acquire(ctx, "acme"))
			env.now = env.now.Add(tt.lockAge)
			if tt.checkpoint != nil {
				env.saveCheckpoint(t, *tt.checkpoint, env.now.Add(-tt.updatedAgo))
			}

			assert.Equal(t, tt.wantLocked, env.mgr.IsLocked(ctx, "acme"))

			_, err := env.locks.Get(ctx, "acme")
			if tt.wantLocked {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrNotFound, "stale lock should be released")
			}
		})
	}
}

func TestIsLockStale_MissingCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	assert.True(t, env.mgr.IsLockStale(context.Background(), "acme"))
}

func TestIsLocked_NoLock(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.mgr.IsLocked(context.Background(), "acme"))
}

func TestIsLocked_ExpiredLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.True(t, env.mgr.Acquire(ctx, "acme"))
	env.saveCheckpoint(t, domain.CheckpointInProgress, env.now)

	env.now = env.now.Add(domain.LockTTL)
	assert.False(t, env.mgr.IsLocked(ctx, "acme"))
}

func TestIsLocked_QuietRunStaysLocked(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := memory.NewLockRepository()
	checkpoints := memory.NewCheckpointRepository()
	ctx := context.Background()

	mgr := NewManager(locks, checkpoints, logger)
	mgr.staleAfter = 200 * time.Millisecond
	require.True(t, mgr.Acquire(ctx, "acme"))

	// The run updates its checkpoint once and then waits on the export.
	store := checkpoint.NewStore(checkpoints, nil, "acme", checkpoint.Config{
		Enabled:       true,
		Debounce:      10 * time.Millisecond,
		FlushInterval: 50 * time.Millisecond,
		TTL:           domain.CheckpointTTL,
	}, logger)
	defer store.Close()
	store.Update(func(cp *domain.Checkpoint) { cp.Status = domain.CheckpointInProgress })

	time.Sleep(500 * time.Millisecond)

	assert.True(t, mgr.IsLocked(ctx, "acme"))
	_, err := locks.Get(ctx, "acme")
	require.NoError(t, err)

	other := NewManager(locks, checkpoints, logger)
	other.staleAfter = mgr.staleAfter
	assert.True(t, other.IsLocked(ctx, "acme"))
	assert.False(t, other.Acquire(ctx, "acme"))
}

func ptr[T any](v T) *T { return &v }
