package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/catalog-indexer/internal/domain"
)

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

func (e userError) inProgress() bool {
	return e.Code == "OPERATION_IN_PROGRESS" || strings.Contains(strings.ToLower(e.Message), "already in progress")
}

// Submit starts a bulk export and returns its job id and initial status. When
// Shopify reports that a bulk operation is already running for the shop, that
// operation is adopted instead.
func (c *Client) Submit(ctx context.Context) (string, domain.JobStatus, error) {
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()
	}

	query := c.cfg.Query
	if query == "" {
		query = ProductsQuery
	}

	var data struct {
		Run struct {
			BulkOperation *bulkOperation `json:"bulkOperation"`
			UserErrors    []userError    `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := c.query(ctx, "submit bulk operation", bulkRunMutation, map[string]any{"query": query}, &data); err != nil {
		return "", "", err
	}

	if len(data.Run.UserErrors) > 0 {
		for _, ue := range data.Run.UserErrors {
			if ue.inProgress() {
				return c.adoptCurrent(ctx)
			}
		}
		msgs := make([]string, 0, len(data.Run.UserErrors))
		for _, ue := range data.Run.UserErrors {
			msgs = append(msgs, ue.Message)
		}
		return "", "", fmt.Errorf("submit bulk operation: %s", strings.Join(msgs, "; "))
	}

	op := data.Run.BulkOperation
	if op == nil || op.ID == "" {
		return "", "", fmt.Errorf("submit bulk operation: response has no bulk operation")
	}

	c.logger.InfoContext(ctx, "bulk export submitted",
		slog.String("job_id", op.ID),
		slog.String("status", op.Status),
	)
	return op.ID, domain.JobStatus(op.Status), nil
}

func (c *Client) adoptCurrent(ctx context.Context) (string, domain.JobStatus, error) {
	var data struct {
		Current *bulkOperation `json:"currentBulkOperation"`
	}
	if err := c.query(ctx, "current bulk operation", currentBulkOperationQuery, nil, &data); err != nil {
		return "", "", err
	}
	if data.Current == nil || data.Current.ID == "" {
		return "", "", fmt.Errorf("submit bulk operation: operation in progress but none reported as current")
	}

	c.logger.InfoContext(ctx, "adopting bulk export already in progress",
		slog.String("job_id", data.Current.ID),
		slog.String("status", data.Current.Status),
	)
	return data.Current.ID, domain.JobStatus(data.Current.Status), nil
}

// LatestProductUpdate returns the newest product updatedAt in the shop, or
// the zero time for a shop without products.
func (c *Client) LatestProductUpdate(ctx context.Context) (time.Time, error) {
	var data struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID        string    `json:"id"`
					UpdatedAt time.Time `json:"updatedAt"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	if err := c.query(ctx, "latest product update", latestProductQuery, nil, &data); err != nil {
		return time.Time{}, err
	}
	if len(data.Products.Edges) == 0 {
		return time.Time{}, nil
	}
	return data.Products.Edges[0].Node.UpdatedAt, nil
}
