package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/config"
	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/export"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:        "test",
		HTTPPort:           8090,
		ShopifyShopSuffix:  ".myshopify.com",
		ShopifyAccessToken: "shpat_test",
		ShopifyAPIVersion:  "2024-10",
		ShopifyRateLimit:   2,
		SearchEngine:       "memory",
		IndexPrefix:        "products_",
		CheckpointStore:    "memory",
		LockStore:          "memory",
		BatchSize:          100,
		MaxRetries:         1,
		MaxInMemory:        10,
		CheckpointEnabled:  true,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_MemoryBackends(t *testing.T) {
	a := newTestApp(t, memoryConfig())

	assert.NotNil(t, a.Orchestrator())
	assert.NotNil(t, a.Catalogs())
	assert.NotNil(t, a.Locks())
	assert.Equal(t, "products_acme", a.Orchestrator().IndexName("acme"))

	ctx := context.Background()
	require.True(t, a.Locks().Acquire(ctx, "acme"))
	assert.False(t, a.Locks().Acquire(ctx, "acme"))
	require.NoError(t, a.Locks().Release(ctx, "acme"))
}

func TestExporter(t *testing.T) {
	a := newTestApp(t, memoryConfig())

	exp, err := a.exporter("acme")
	require.NoError(t, err)
	assert.IsType(t, &export.Client{}, exp)
}

func TestExporter_MissingToken(t *testing.T) {
	cfg := memoryConfig()
	cfg.ShopifyAccessToken = ""
	a := newTestApp(t, cfg)

	_, err := a.exporter("acme")
	assert.Error(t, err)
}

func TestDocumentFilter(t *testing.T) {
	cfg := memoryConfig()
	cfg.DocumentFields = []string{"id", "title"}
	a := newTestApp(t, cfg)

	out := a.documentFilter().Filter(map[string]any{"id": "1", "title": "Shirt", "vendor": "Acme"})
	assert.Equal(t, map[string]any{"id": "1", "title": "Shirt"}, out)
}

func TestDocumentFilter_Default(t *testing.T) {
	a := newTestApp(t, memoryConfig())

	out := a.documentFilter().Filter(map[string]any{"id": "1", "__internal": true})
	assert.Equal(t, map[string]any{"id": "1"}, out)
	assert.Contains(t, domain.DefaultDocumentFields, "optionPairs")
}

func TestPipelineConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.CheckpointEnabled = false
	a := newTestApp(t, cfg)

	pc := a.pipelineConfig()
	assert.Equal(t, 100, pc.Writer.BatchSize)
	assert.Equal(t, 1, pc.Writer.MaxRetries)
	assert.Equal(t, 10, pc.Assembler.MaxInMemory)
	assert.False(t, pc.Checkpoint.Enabled)
}
