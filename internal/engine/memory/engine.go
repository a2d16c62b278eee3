package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
)

// Engine is an in-memory implementation of engine.SearchEngine.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu       sync.RWMutex
	indices  map[string]map[string]map[string]any
	failures map[string]int // document id -> remaining rejected writes
}

var _ engine.SearchEngine = (*Engine)(nil)

// New creates a new in-memory search engine.
func New() *Engine {
	return &Engine{
		indices:  make(map[string]map[string]map[string]any),
		failures: make(map[string]int),
	}
}

// Ping always succeeds.
func (e *Engine) Ping(context.Context) error { return nil }

// IndexExists reports whether index was created.
func (e *Engine) IndexExists(_ context.Context, index string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.indices[index]
	return ok, nil
}

// EnsureIndex creates index if missing.
func (e *Engine) EnsureIndex(_ context.Context, index string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[index]; ok {
		return false, nil
	}
	e.indices[index] = make(map[string]map[string]any)
	return true, nil
}

// DropIndex removes index and its documents.
func (e *Engine) DropIndex(index string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.indices, index)
}

// FailWrites makes the next n upserts of id fail with a 429 item error.
// A negative n fails every upsert of id.
func (e *Engine) FailWrites(id string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[id] = n
}

// BulkUpsert stores copies of docs.
func (e *Engine) BulkUpsert(_ context.Context, index string, docs []engine.Document) ([]*domain.WriteError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(index)
	var failed []*domain.WriteError
	for _, d := range docs {
		if n := e.failures[d.ID]; n != 0 {
			if n > 0 {
				e.failures[d.ID] = n - 1
			}
			failed = append(failed, &domain.WriteError{
				ID:     d.ID,
				Status: 429,
				Type:   "es_rejected_execution_exception",
				Reason: "rejected execution",
			})
			continue
		}
		src := make(map[string]any, len(d.Source))
		for k, v := range d.Source {
			src[k] = v
		}
		idx[d.ID] = src
	}
	return failed, nil
}

// BulkAppend appends items to array fields of existing documents.
func (e *Engine) BulkAppend(_ context.Context, index string, updates []engine.Append) ([]*domain.WriteError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(index)
	var failed []*domain.WriteError
	for _, u := range updates {
		doc, ok := idx[u.ID]
		if !ok {
			failed = append(failed, &domain.WriteError{
				ID:     u.ID,
				Status: 404,
				Type:   "document_missing_exception",
				Reason: "document missing",
			})
			continue
		}
		for field, items := range u.Fields {
			current := toAnySlice(doc[field])
			for _, item := range items {
				if !containsValue(current, item) {
					current = append(current, item)
				}
			}
			doc[field] = current
		}
	}
	return failed, nil
}

// BulkDelete removes ids; missing ids are ignored.
func (e *Engine) BulkDelete(_ context.Context, index string, ids []string) ([]*domain.WriteError, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(index)
	for _, id := range ids {
		delete(idx, id)
	}
	return nil, nil
}

// ScrollIDs pages through ids in sorted order.
func (e *Engine) ScrollIDs(_ context.Context, index string, pageSize int, fn func(ids []string) error) error {
	ids := e.IDs(index)
	if pageSize <= 0 {
		pageSize = len(ids)
	}
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Refresh is a no-op.
func (e *Engine) Refresh(context.Context, string) error { return nil }

// IDs returns the sorted document ids of index.
func (e *Engine) IDs(index string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.indices[index]))
	for id := range e.indices[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the stored source of a document.
func (e *Engine) Get(index, id string) (map[string]any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.indices[index][id]
	return doc, ok
}

func (e *Engine) indexLocked(index string) map[string]map[string]any {
	idx, ok := e.indices[index]
	if !ok {
		idx = make(map[string]map[string]any)
		e.indices[index] = idx
	}
	return idx
}

func toAnySlice(v any) []any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func containsValue(items []any, v any) bool {
	for _, item := range items {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
