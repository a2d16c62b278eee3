package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-indexer/internal/engine"
)

// ---------------------------------------------------------------------------
// Fake cluster
// ---------------------------------------------------------------------------

type fakeCluster struct {
	mu          sync.Mutex
	indices     map[string]bool
	bulkLines   [][]map[string]any
	bulkReply   string
	scrollPages []string
	scrollCalls int
	cleared     bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasPrefix(r.URL.Path, "/_search/scroll") && r.Method == http.MethodDelete:
		f.cleared = true
		_, _ = io.WriteString(w, `{"succeeded":true}`)

	case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		f.scrollCalls++
		_, _ = io.WriteString(w, f.scrollPages[f.scrollCalls])

	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = io.WriteString(w, f.scrollPages[0])

	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		var lines []map[string]any
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var m map[string]any
			if json.Unmarshal(sc.Bytes(), &m) == nil {
				lines = append(lines, m)
			}
		}
		f.bulkLines = append(f.bulkLines, lines)
		_, _ = io.WriteString(w, f.bulkReply)

	case strings.HasSuffix(r.URL.Path, "/_refresh"):
		_, _ = io.WriteString(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)

	case r.Method == http.MethodHead && r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead:
		if f.indices[strings.TrimPrefix(r.URL.Path, "/")] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut:
		f.indices[strings.TrimPrefix(r.URL.Path, "/")] = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"not_found","reason":"unexpected request"},"status":404}`)
	}
}

func newFakeEngine(t *testing.T) (*Engine, *fakeCluster) {
	t.Helper()
	fake := &fakeCluster{indices: make(map[string]bool)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	eng, err := New(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return eng, fake
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEngine_Ping(t *testing.T) {
	eng, _ := newFakeEngine(t)
	assert.NoError(t, eng.Ping(context.Background()))
}

func TestEngine_EnsureIndex(t *testing.T) {
	eng, fake := newFakeEngine(t)
	ctx := context.Background()

	exists, err := eng.IndexExists(ctx, "products_acme")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := eng.EnsureIndex(ctx, "products_acme")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, fake.indices["products_acme"])

	created, err = eng.EnsureIndex(ctx, "products_acme")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEngine_BulkUpsert_ReportsRejectedItems(t *testing.T) {
	eng, fake := newFakeEngine(t)
	fake.bulkReply = `{"errors":true,"items":[
		{"index":{"_id":"1","status":201,"result":"created"}},
		{"index":{"_id":"2","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [rank]"}}}
	]}`

	failed, err := eng.BulkUpsert(context.Background(), "products_acme", []engine.Document{
		{ID: "1", Source: map[string]any{"title": "Shirt"}},
		{ID: "2", Source: map[string]any{"title": "Hat", "rank": "high"}},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].ID)
	assert.Equal(t, 400, failed[0].Status)
	assert.Equal(t, "mapper_parsing_exception", failed[0].Type)

	require.Len(t, fake.bulkLines, 1)
	lines := fake.bulkLines[0]
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "1"}}, lines[0])
	assert.Equal(t, "Shirt", lines[1]["title"])
}

func TestEngine_BulkAppend_SendsScript(t *testing.T) {
	eng, fake := newFakeEngine(t)
	fake.bulkReply = `{"errors":true,"items":[
		{"update":{"_id":"9","status":404,"error":{"type":"document_missing_exception","reason":"[9]: document missing"}}}
	]}`

	failed, err := eng.BulkAppend(context.Background(), "products_acme", []engine.Append{
		{ID: "9", Fields: map[string][]any{"collectionIds": {"5"}}},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.True(t, engine.IsNotFound(failed[0]))

	lines := fake.bulkLines[0]
	require.Len(t, lines, 2)
	script := lines[1]["script"].(map[string]any)
	assert.Equal(t, "painless", script["lang"])
	params := script["params"].(map[string]any)["append"].(map[string]any)
	assert.Equal(t, []any{"5"}, params["collectionIds"])
}

func TestEngine_BulkDelete_IgnoresMissing(t *testing.T) {
	eng, fake := newFakeEngine(t)
	fake.bulkReply = `{"errors":true,"items":[
		{"delete":{"_id":"1","status":200,"result":"deleted"}},
		{"delete":{"_id":"2","status":404,"result":"not_found"}}
	]}`

	failed, err := eng.BulkDelete(context.Background(), "products_acme", []string{"1", "2"})
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestEngine_ScrollIDs(t *testing.T) {
	eng, fake := newFakeEngine(t)
	fake.scrollPages = []string{
		`{"_scroll_id":"s1","hits":{"hits":[{"_id":"1"},{"_id":"2"}]}}`,
		`{"_scroll_id":"s1","hits":{"hits":[{"_id":"3"}]}}`,
		`{"_scroll_id":"s1","hits":{"hits":[]}}`,
	}

	var got []string
	err := eng.ScrollIDs(context.Background(), "products_acme", 2, func(ids []string) error {
		got = append(got, ids...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.True(t, fake.cleared)
}

func TestEngine_Refresh(t *testing.T) {
	eng, _ := newFakeEngine(t)
	assert.NoError(t, eng.Refresh(context.Background(), "products_acme"))
}
