// Package remote provides the client for the remote content API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stacklok/content-sync/internal/record"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "content-sync/1.0"
)

// QueryResult is one page of a collection query.
type QueryResult struct {
	Records []*record.Record `json:"records"`

	// NextCursor is nil when the collection is exhausted
	NextCursor *string `json:"next_cursor,omitempty"`
}

// ContentClient is the interface to the remote, rate-limited content API.
// Implementations return typed errors (HTTPError, net timeouts) so the
// retry layer can classify failures.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go ContentClient
type ContentClient interface {
	// GetRecord fetches the full detail of a single record
	GetRecord(ctx context.Context, id string) (*record.Record, error)

	// QueryCollection fetches one page of a source's records matching the
	// filter. Pass an empty cursor for the first page.
	QueryCollection(
		ctx context.Context, sourceID string, filter record.Filter, cursor string, pageSize int,
	) (*QueryResult, error)

	// BatchGetRecords fetches full detail for several records in one call
	BatchGetRecords(ctx context.Context, ids []string) (map[string]*record.Record, error)
}

// HTTPClient is the default HTTP implementation of ContentClient
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
}

// ClientOption configures the HTTP client
type ClientOption func(*HTTPClient)

// WithTimeout overrides the default per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = timeout
	}
}

// WithToken sets the bearer token sent with every request
func WithToken(token string) ClientOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// NewHTTPClient creates a new HTTP content client for the given base URL
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: trimTrailingSlash(baseURL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRecord fetches a single record's full detail
func (c *HTTPClient) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/records/"+id, nil)
	if err != nil {
		return nil, err
	}

	var rec record.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record response: %w", err)
	}
	return &rec, nil
}

// queryRequest is the wire format for collection queries
type queryRequest struct {
	Filter   record.Filter `json:"filter"`
	Cursor   string        `json:"cursor,omitempty"`
	PageSize int           `json:"page_size,omitempty"`
}

// QueryCollection fetches one page of records from a source
func (c *HTTPClient) QueryCollection(
	ctx context.Context, sourceID string, filter record.Filter, cursor string, pageSize int,
) (*QueryResult, error) {
	payload, err := json.Marshal(queryRequest{Filter: filter, Cursor: cursor, PageSize: pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/sources/"+sourceID+"/query", payload)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}
	return &result, nil
}

// BatchGetRecords fetches several records in a single call
func (c *HTTPClient) BatchGetRecords(ctx context.Context, ids []string) (map[string]*record.Record, error) {
	payload, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/records/batch", payload)
	if err != nil {
		return nil, err
	}

	var result map[string]*record.Record
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	return result, nil
}

// do executes a request and returns the response body
func (c *HTTPClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// Use LimitReader to prevent reading more than MaxResponseSize
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1) // +1 to detect if limit exceeded
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

func trimTrailingSlash(url string) string {
	if len(url) > 0 && url[len(url)-1] == '/' {
		return url[:len(url)-1]
	}
	return url
}
