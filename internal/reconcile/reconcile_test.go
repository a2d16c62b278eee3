package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/engine"
	"github.com/utafrali/catalog-indexer/internal/engine/memory"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const testIndex = "products_acme"

func seed(t *testing.T, ids ...string) *memory.Engine {
	t.Helper()
	eng := memory.New()
	docs := make([]engine.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, engine.Document{ID: id, Source: map[string]any{"id": id}})
	}
	_, err := eng.BulkUpsert(context.Background(), testIndex, docs)
	require.NoError(t, err)
	return eng
}

func newTestReconciler(eng engine.SearchEngine, cfg Config) *Reconciler {
	return New(eng, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func set(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

type scrollFailEngine struct {
	*memory.Engine
}

func (scrollFailEngine) ScrollIDs(context.Context, string, int, func([]string) error) error {
	return errors.New("search_phase_execution_exception")
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestReconcile_DeletesAbsentDocuments(t *testing.T) {
	eng := seed(t, "A", "B", "C")
	r := newTestReconciler(eng, DefaultConfig())

	deleted, err := r.Reconcile(context.Background(), testIndex, set("A", "B"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, []string{"A", "B"}, eng.IDs(testIndex))
}

func TestReconcile_MatchesNormalizedIDs(t *testing.T) {
	eng := seed(t, "1", "2", "3")
	r := newTestReconciler(eng, DefaultConfig())

	deleted, err := r.Reconcile(context.Background(), testIndex,
		set("gid://shopify/Product/1", "3"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, []string{"1", "3"}, eng.IDs(testIndex))
}

func TestReconcile_EmptySetIsNoop(t *testing.T) {
	eng := seed(t, "A", "B")
	r := newTestReconciler(eng, DefaultConfig())

	deleted, err := r.Reconcile(context.Background(), testIndex, nil)
	require.NoError(t, err)

	assert.Zero(t, deleted)
	assert.Len(t, eng.IDs(testIndex), 2)
}

func TestReconcile_PagesAndBatches(t *testing.T) {
	eng := seed(t, "1", "2", "3", "4", "5", "6", "7")
	r := newTestReconciler(eng, Config{PageSize: 2, DeleteBatchSize: 2})

	deleted, err := r.Reconcile(context.Background(), testIndex, set("4"))
	require.NoError(t, err)

	assert.Equal(t, int64(6), deleted)
	assert.Equal(t, []string{"4"}, eng.IDs(testIndex))
}

func TestReconcile_ScrollError(t *testing.T) {
	eng := scrollFailEngine{seed(t, "A")}
	r := newTestReconciler(eng, DefaultConfig())

	_, err := r.Reconcile(context.Background(), testIndex, set("B"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scroll index products_acme")
	assert.Len(t, eng.IDs(testIndex), 1)
}
