package engine

import (
	"context"

	"github.com/utafrali/catalog-indexer/internal/domain"
)

// Document is one index document keyed by its index id.
type Document struct {
	ID     string
	Source map[string]any
}

// Append adds items to array fields of an existing document. Items already
// present are not duplicated.
type Append struct {
	ID     string
	Fields map[string][]any
}

// SearchEngine is the subset of search index operations the indexer needs.
// Implementations may use Elasticsearch or in-memory storage.
type SearchEngine interface {
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// IndexExists reports whether index exists.
	IndexExists(ctx context.Context, index string) (bool, error)

	// EnsureIndex creates index with the product mapping unless it exists.
	// It reports whether the index was created.
	EnsureIndex(ctx context.Context, index string) (bool, error)

	// BulkUpsert writes docs, replacing documents with the same id. It returns
	// the items the engine rejected; a non-nil error fails the whole batch.
	BulkUpsert(ctx context.Context, index string, docs []Document) ([]*domain.WriteError, error)

	// BulkAppend applies partial updates. Missing documents are reported as
	// item errors with status 404.
	BulkAppend(ctx context.Context, index string, updates []Append) ([]*domain.WriteError, error)

	// BulkDelete removes ids. Missing documents are not errors.
	BulkDelete(ctx context.Context, index string, ids []string) ([]*domain.WriteError, error)

	// ScrollIDs calls fn with successive pages of every document id in index.
	ScrollIDs(ctx context.Context, index string, pageSize int, fn func(ids []string) error) error

	// Refresh makes recent writes visible to search.
	Refresh(ctx context.Context, index string) error
}

// IndexName returns the index holding the products of one catalog.
func IndexName(prefix, catalogKey string) string {
	return prefix + catalogKey
}

// IsNotFound reports whether an item error means the document is missing.
func IsNotFound(err *domain.WriteError) bool {
	return err != nil && err.Status == 404
}
