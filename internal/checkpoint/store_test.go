package checkpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/repository/memory"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeIndex struct {
	exists bool
	err    error
}

func (f fakeIndex) IndexExists(context.Context, string) (bool, error) { return f.exists, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		Debounce:      20 * time.Millisecond,
		FlushInterval: 60 * time.Millisecond,
		TTL:           domain.CheckpointTTL,
	}
}

func newTestStore(t *testing.T, cfg Config) (*Store, *memory.CheckpointRepository) {
	t.Helper()
	repo := memory.NewCheckpointRepository()
	s := NewStore(repo, fakeIndex{exists: true}, "acme", cfg, testLogger())
	t.Cleanup(s.Close)
	return s, repo
}

func seed(t *testing.T, repo *memory.CheckpointRepository, status domain.CheckpointStatus, line int64, expiresAt time.Time) {
	t.Helper()
	cp := domain.NewCheckpoint()
	cp.Status = status
	cp.LastProcessedLine = line
	cp.TotalIndexed = 10
	require.NoError(t, repo.Save(context.Background(), &domain.CheckpointRecord{
		CatalogKey:   "acme",
		CheckpointID: "cp-seeded",
		Data:         cp,
		UpdatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}))
}

// ---------------------------------------------------------------------------
// LoadCheckpoint
// ---------------------------------------------------------------------------

func TestLoadCheckpoint_Decisions(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name       string
		disabled   bool
		status     domain.CheckpointStatus
		expiresAt  time.Time
		noRecord   bool
		index      fakeIndex
		wantUse    bool
		wantReason Reason
		wantLine   int64
	}{
		{name: "disabled", disabled: true, status: domain.CheckpointFailed, expiresAt: future, index: fakeIndex{exists: true}, wantReason: ReasonDisabled},
		{name: "no record", noRecord: true, index: fakeIndex{exists: true}, wantReason: ReasonNotFound},
		{name: "expired", status: domain.CheckpointFailed, expiresAt: past, index: fakeIndex{exists: true}, wantReason: ReasonExpired},
		{name: "index deleted", status: domain.CheckpointFailed, expiresAt: future, index: fakeIndex{exists: false}, wantReason: ReasonIndexDeleted},
		{name: "index probe error", status: domain.CheckpointFailed, expiresAt: future, index: fakeIndex{err: errors.New("timeout")}, wantReason: ReasonIndexDeleted},
		{name: "failed resumes", status: domain.CheckpointFailed, expiresAt: future, index: fakeIndex{exists: true}, wantUse: true, wantReason: ReasonResumeFailed, wantLine: 500},
		{name: "previous success", status: domain.CheckpointSuccess, expiresAt: future, index: fakeIndex{exists: true}, wantUse: true, wantReason: ReasonPreviousSuccess, wantLine: 500},
		{name: "in progress resumes", status: domain.CheckpointInProgress, expiresAt: future, index: fakeIndex{exists: true}, wantUse: true, wantReason: ReasonResumeInProgress, wantLine: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			cfg.Enabled = !tt.disabled
			repo := memory.NewCheckpointRepository()
			if !tt.noRecord {
				seed(t, repo, tt.status, 500, tt.expiresAt)
			}
			s := NewStore(repo, tt.index, "acme", cfg, testLogger())
			defer s.Close()

			d := s.LoadCheckpoint(context.Background(), "products_acme")

			assert.Equal(t, tt.wantUse, d.ShouldUse)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.wantLine, s.Snapshot().LastProcessedLine)
			if tt.wantUse {
				assert.Equal(t, "cp-seeded", s.CheckpointID())
			}
		})
	}
}

func TestLoadCheckpoint_ExpiredRecordIsDeleted(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())
	seed(t, repo, domain.CheckpointInProgress, 10, time.Now().Add(-time.Second))

	d := s.LoadCheckpoint(context.Background(), "products_acme")
	assert.Equal(t, ReasonExpired, d.Reason)

	_, err := repo.Get(context.Background(), "acme")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Update / debounce / periodic flush
// ---------------------------------------------------------------------------

func TestUpdate_RecomputesProgress(t *testing.T) {
	s, _ := newTestStore(t, fastConfig())

	s.Update(func(cp *domain.Checkpoint) {
		cp.TotalLines = 3
		cp.LastProcessedLine = 1
	})
	assert.Equal(t, 33, s.Snapshot().Progress)

	s.Update(func(cp *domain.Checkpoint) { cp.Status = domain.CheckpointSuccess })
	assert.Equal(t, 100, s.Snapshot().Progress)
}

func TestUpdate_DebouncedIntoOneWrite(t *testing.T) {
	cfg := fastConfig()
	cfg.FlushInterval = time.Hour
	s, repo := newTestStore(t, cfg)

	for i := int64(1); i <= 20; i++ {
		s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = i })
	}

	require.Eventually(t, func() bool { return repo.Saves() == 1 }, time.Second, 5*time.Millisecond)

	rec, err := repo.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.Data.LastProcessedLine)
	assert.True(t, rec.ExpiresAt.After(time.Now().Add(23*time.Hour)))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, repo.Saves())
}

func TestUpdate_PeriodicFlushWithoutDebounce(t *testing.T) {
	cfg := fastConfig()
	cfg.Debounce = time.Hour
	s, repo := newTestStore(t, cfg)

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 7 })

	require.Eventually(t, func() bool { return repo.Saves() >= 1 }, time.Second, 5*time.Millisecond)
	rec, err := repo.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Data.LastProcessedLine)
}

func TestPeriodicFlush_KeepsSavingWhileQuiet(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())
	ctx := context.Background()

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 7 })
	require.Eventually(t, func() bool { return repo.Saves() >= 1 }, time.Second, 5*time.Millisecond)
	first, err := repo.Get(ctx, "acme")
	require.NoError(t, err)

	// No further updates: only the periodic flush writes from here on.
	require.Eventually(t, func() bool { return repo.Saves() >= 5 }, 2*time.Second, 10*time.Millisecond)

	last, err := repo.Get(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, last.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, int64(7), last.Data.LastProcessedLine)
	assert.Equal(t, domain.CheckpointInProgress, last.Data.Status)
}

func TestPeriodicFlush_StopsAfterTerminalStatus(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())

	s.Update(func(cp *domain.Checkpoint) { cp.Status = domain.CheckpointFailed })
	require.Eventually(t, func() bool { return repo.Saves() >= 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, repo.Saves())
}

func TestUpdate_DisabledNeverPersists(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false
	s, repo := newTestStore(t, cfg)

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 7 })
	require.NoError(t, s.ForceSave(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, repo.Saves())
	assert.Equal(t, int64(7), s.Snapshot().LastProcessedLine)
}

// ---------------------------------------------------------------------------
// ForceSave / Clear / Close
// ---------------------------------------------------------------------------

func TestForceSave_TerminalIsNotOverwritten(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 3 })
	s.Update(func(cp *domain.Checkpoint) { cp.Status = domain.CheckpointSuccess })
	require.NoError(t, s.ForceSave(context.Background()))
	saves := repo.Saves()

	// Well past both timers.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, saves, repo.Saves())

	rec, err := repo.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointSuccess, rec.Data.Status)
	assert.Equal(t, 100, rec.Data.Progress)
}

func TestForceSave_WritesCleanCheckpoint(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())

	require.NoError(t, s.ForceSave(context.Background()))
	assert.Equal(t, 1, repo.Saves())
}

func TestClearCheckpoint(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())
	ctx := context.Background()

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 42 })
	require.NoError(t, s.ForceSave(ctx))
	oldID := s.CheckpointID()

	require.NoError(t, s.ClearCheckpoint(ctx))

	_, err := repo.Get(ctx, "acme")
	assert.Error(t, err)
	assert.Equal(t, int64(0), s.Snapshot().LastProcessedLine)
	assert.NotEqual(t, oldID, s.CheckpointID())
}

func TestClose_DropsPendingSave(t *testing.T) {
	s, repo := newTestStore(t, fastConfig())

	s.Update(func(cp *domain.Checkpoint) { cp.LastProcessedLine = 1 })
	s.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, repo.Saves())
}

// ---------------------------------------------------------------------------
// Failed items
// ---------------------------------------------------------------------------

func TestFailures_RecordAndClear(t *testing.T) {
	s, _ := newTestStore(t, fastConfig())

	s.RecordFailure(domain.FailedItem{ID: "gid://shopify/Product/1", Line: 4, Error: "boom", RetryCount: 3})
	s.RecordFailure(domain.FailedItem{ID: "gid://shopify/Product/2", Line: 9, Error: "boom", RetryCount: 3})
	s.RecordFailure(domain.FailedItem{ID: "gid://shopify/Product/1", Line: 12, Error: "again", RetryCount: 3})

	snap := s.Snapshot()
	require.Len(t, snap.FailedItems, 2)
	assert.Equal(t, int64(2), snap.TotalFailed)
	assert.Equal(t, "again", snap.FailedItems[0].Error)

	s.ClearFailures(map[string]struct{}{"1": {}})

	snap = s.Snapshot()
	require.Len(t, snap.FailedItems, 1)
	assert.Equal(t, "gid://shopify/Product/2", snap.FailedItems[0].ID)
	assert.Equal(t, int64(1), snap.TotalFailed)
}
