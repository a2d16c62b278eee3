package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
)

// scrollKeepAlive is how long a scroll context survives between pages.
const scrollKeepAlive = 2 * time.Minute

// appendScript merges params.append into array fields, skipping items that
// are already present.
const appendScript = `
for (entry in params.append.entrySet()) {
  def key = entry.getKey();
  if (ctx._source[key] == null) {
    ctx._source[key] = new ArrayList();
  }
  for (item in entry.getValue()) {
    if (!ctx._source[key].contains(item)) {
      ctx._source[key].add(item);
    }
  }
}`

// Engine is an Elasticsearch-backed implementation of engine.SearchEngine.
type Engine struct {
	client *elasticsearch.Client
	logger *slog.Logger
}

var _ engine.SearchEngine = (*Engine)(nil)

// esBulkItem is one entry of the bulk response, under its action name.
type esBulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// esBulkResponse is the structure used to decode Elasticsearch bulk responses.
type esBulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]esBulkItem `json:"items"`
}

// esScrollResponse carries document ids only.
type esScrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// New creates an Elasticsearch engine connected to the given URL.
func New(esURL string, logger *slog.Logger) (*Engine, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{esURL},
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	return &Engine{client: client, logger: logger}, nil
}

// responseError decodes an Elasticsearch error body for op.
func responseError(op string, res *esapi.Response) error {
	var errResp esErrorResponse
	if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		return fmt.Errorf("elasticsearch %s: %s: %s", op, errResp.Error.Type, errResp.Error.Reason)
	}
	return fmt.Errorf("elasticsearch %s: unexpected status %s", op, res.Status())
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// IndexExists reports whether index exists.
func (e *Engine) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := e.client.Indices.Exists([]string{index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("elasticsearch index exists: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("elasticsearch index exists: unexpected status %s", res.Status())
	}
}

// EnsureIndex creates index with the products mapping if it does not exist.
func (e *Engine) EnsureIndex(ctx context.Context, index string) (bool, error) {
	exists, err := e.IndexExists(ctx, index)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	res, err := e.client.Indices.Create(
		index,
		e.client.Indices.Create.WithBody(strings.NewReader(buildIndexMapping())),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		var errResp esErrorResponse
		body, _ := io.ReadAll(res.Body)
		// Another run created it first.
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Type == "resource_already_exists_exception" {
			return false, nil
		}
		return false, fmt.Errorf("elasticsearch create index: unexpected status %s: %s", res.Status(), bytes.TrimSpace(body))
	}

	e.logger.InfoContext(ctx, "elasticsearch index created", slog.String("index", index))
	return true, nil
}

// DeleteIndex removes index. A missing index is not an error.
func (e *Engine) DeleteIndex(ctx context.Context, index string) error {
	res, err := e.client.Indices.Delete([]string{index}, e.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete index", res)
	}
	return nil
}

// BulkUpsert indexes docs, replacing any document with the same id.
func (e *Engine) BulkUpsert(ctx context.Context, index string, docs []engine.Document) ([]*domain.WriteError, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		action := map[string]any{"index": map[string]any{"_id": docs[i].ID}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk upsert: encode action: %w", err)
		}
		if err := enc.Encode(docs[i].Source); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk upsert: encode document %s: %w", docs[i].ID, err)
		}
	}

	return e.bulk(ctx, "bulk upsert", index, &buf, false)
}

// BulkAppend adds items to array fields of existing documents.
func (e *Engine) BulkAppend(ctx context.Context, index string, updates []engine.Append) ([]*domain.WriteError, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range updates {
		action := map[string]any{"update": map[string]any{"_id": updates[i].ID, "retry_on_conflict": 3}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk append: encode action: %w", err)
		}
		body := map[string]any{
			"script": map[string]any{
				"source": appendScript,
				"lang":   "painless",
				"params": map[string]any{"append": updates[i].Fields},
			},
		}
		if err := enc.Encode(body); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk append: encode update %s: %w", updates[i].ID, err)
		}
	}

	return e.bulk(ctx, "bulk append", index, &buf, false)
}

// BulkDelete removes ids from index.
func (e *Engine) BulkDelete(ctx context.Context, index string, ids []string) ([]*domain.WriteError, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_id": id}}); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk delete: encode action: %w", err)
		}
	}

	return e.bulk(ctx, "bulk delete", index, &buf, true)
}

// bulk sends an NDJSON body and returns the rejected items. With
// ignoreNotFound, 404 items are treated as success.
func (e *Engine) bulk(ctx context.Context, op, index string, body io.Reader, ignoreNotFound bool) ([]*domain.WriteError, error) {
	res, err := e.client.Bulk(
		body,
		e.client.Bulk.WithIndex(index),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch %s: %w", op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError(op, res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	if !bulkResp.Errors {
		return nil, nil
	}

	var failed []*domain.WriteError
	for _, entry := range bulkResp.Items {
		for _, item := range entry {
			if item.Status < 300 {
				continue
			}
			if ignoreNotFound && item.Status == http.StatusNotFound {
				continue
			}
			failed = append(failed, &domain.WriteError{
				ID:     item.ID,
				Status: item.Status,
				Type:   item.Error.Type,
				Reason: item.Error.Reason,
			})
		}
	}
	return failed, nil
}

// ScrollIDs walks every document id of index in _doc order.
func (e *Engine) ScrollIDs(ctx context.Context, index string, pageSize int, fn func(ids []string) error) error {
	query := fmt.Sprintf(`{"size":%d,"_source":false,"sort":["_doc"],"query":{"match_all":{}}}`, pageSize)

	res, err := e.client.Search(
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(strings.NewReader(query)),
		e.client.Search.WithScroll(scrollKeepAlive),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch scroll: %w", err)
	}

	var scrollID string
	defer func() {
		if scrollID != "" {
			e.clearScroll(context.WithoutCancel(ctx), scrollID)
		}
	}()

	for {
		page, err := decodeScrollPage(res)
		if err != nil {
			return err
		}
		scrollID = page.ScrollID
		if len(page.Hits.Hits) == 0 {
			return nil
		}

		ids := make([]string, len(page.Hits.Hits))
		for i, h := range page.Hits.Hits {
			ids[i] = h.ID
		}
		if err := fn(ids); err != nil {
			return err
		}

		res, err = e.client.Scroll(
			e.client.Scroll.WithScrollID(scrollID),
			e.client.Scroll.WithScroll(scrollKeepAlive),
			e.client.Scroll.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("elasticsearch scroll: %w", err)
		}
	}
}

func decodeScrollPage(res *esapi.Response) (*esScrollResponse, error) {
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError("scroll", res)
	}
	var page esScrollResponse
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("elasticsearch scroll: decode response: %w", err)
	}
	return &page, nil
}

func (e *Engine) clearScroll(ctx context.Context, scrollID string) {
	res, err := e.client.ClearScroll(
		e.client.ClearScroll.WithScrollID(scrollID),
		e.client.ClearScroll.WithContext(ctx),
	)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to clear scroll", slog.String("error", err.Error()))
		return
	}
	_ = res.Body.Close()
}

// Refresh makes recent writes to index visible.
func (e *Engine) Refresh(ctx context.Context, index string) error {
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(index),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch refresh: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("refresh", res)
	}
	return nil
}
