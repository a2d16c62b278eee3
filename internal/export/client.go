// Package export drives Shopify bulk operations: it submits a full-catalog
// export, polls it to a terminal state and downloads the resulting file.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/utafrali/catalog-indexer/internal/domain"
	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
	"github.com/utafrali/catalog-indexer/pkg/httpclient"
)

// Config holds the Shopify connection and polling settings.
type Config struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string

	// Endpoint overrides the GraphQL URL derived from ShopDomain and APIVersion.
	Endpoint string

	// Query is the bulk operation query. Empty uses ProductsQuery.
	Query string

	RateLimit float64
	RateBurst int

	SubmitTimeout   time.Duration
	DownloadTimeout time.Duration
	TempDir         string

	PollBaseDelay        time.Duration
	PollMaxDelay         time.Duration
	PollFactor           float64
	PollMaxAttempts      int
	SchemaErrorDelay     time.Duration
	MaxConsecutiveErrors int
}

// DefaultConfig returns the production settings for shop.
func DefaultConfig(shop, token string) Config {
	return Config{
		ShopDomain:           shop,
		AccessToken:          token,
		APIVersion:           "2024-10",
		RateLimit:            2,
		RateBurst:            4,
		SubmitTimeout:        60 * time.Second,
		DownloadTimeout:      300 * time.Second,
		PollBaseDelay:        time.Second,
		PollMaxDelay:         30 * time.Second,
		PollFactor:           1.5,
		PollMaxAttempts:      120,
		SchemaErrorDelay:     5 * time.Second,
		MaxConsecutiveErrors: 10,
	}
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.ShopDomain, c.APIVersion)
}

// Client talks to the Shopify Admin GraphQL API.
type Client struct {
	api      *httpclient.CircuitBreakerClient
	download *httpclient.Client
	cfg      Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Shopify export client. API calls go through a retrying,
// rate-limited client guarded by a circuit breaker; downloads use a separate
// client whose timeout covers the whole transfer.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	apiCfg := httpclient.DefaultConfig()
	apiCfg.RateLimit = cfg.RateLimit
	apiCfg.RateBurst = cfg.RateBurst
	apiCfg.Header = http.Header{
		"X-Shopify-Access-Token": []string{cfg.AccessToken},
		"Accept":                 []string{"application/json"},
	}

	dlCfg := httpclient.DefaultConfig()
	dlCfg.Timeout = cfg.DownloadTimeout
	dlCfg.MaxRetries = 2

	return &Client{
		api: httpclient.NewCircuitBreakerClient(
			httpclient.New(apiCfg),
			httpclient.DefaultCircuitBreakerConfig("shopify"),
			logger,
		),
		download: httpclient.New(dlCfg),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "export")),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// query posts a GraphQL document and decodes data into out.
func (c *Client) query(ctx context.Context, op, document string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: document, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	resp, err := c.api.Post(ctx, c.cfg.endpoint(), "application/json", bytes.NewReader(body))
	if err != nil {
		return classifyTransportError(op, err)
	}
	if resp.StatusCode >= 300 {
		return classifyTransportError(op, httpclient.ParseResponseError(resp, "shopify"))
	}
	defer func() { _ = resp.Body.Close() }()

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return &domain.TransientRemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := classifyGraphQLErrors(op, gql.Errors); err != nil {
		return err
	}
	if out == nil || len(gql.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", op, err)
	}
	return nil
}

// classifyTransportError marks throttling, 5xx, network failures and an open
// breaker as transient. Other 4xx responses are returned as they are.
func classifyTransportError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && !apperrors.IsTransient(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.TransientRemoteError{Op: op, Err: err}
}

func classifyGraphQLErrors(op string, errs []graphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	throttled := false
	for _, e := range errs {
		if isSchemaError(e) {
			return &domain.SchemaIncompatibilityError{Message: e.Message}
		}
		if e.Extensions.Code == "THROTTLED" {
			throttled = true
		}
		msgs = append(msgs, e.Message)
	}
	err := fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	if throttled {
		return &domain.TransientRemoteError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isSchemaError(e graphQLError) bool {
	switch e.Extensions.Code {
	case "undefinedField", "undefinedType", "argumentNotAccepted":
		return true
	}
	return strings.Contains(e.Message, "doesn't exist on type")
}

// count decodes the UnsignedInt64 scalar, which Shopify serializes as a string.
type count int64

func (n *count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse count %q: %w", s, err)
	}
	*n = count(v)
	return nil
}

// bulkOperation is the GraphQL BulkOperation object.
type bulkOperation struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
	ObjectCount count  `json:"objectCount"`
	URL         string `json:"url"`
}

func (op *bulkOperation) job() domain.ExportJob {
	return domain.ExportJob{
		ID:          op.ID,
		Status:      domain.JobStatus(op.Status),
		URL:         op.URL,
		ErrorCode:   op.ErrorCode,
		ObjectCount: int64(op.ObjectCount),
	}
}
