// Package meili is a minimal client for a Meilisearch-compatible index.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 512

// errReadBody marks a 2xx response whose body could not be read
var errReadBody = errors.New("read response")

// Client talks to the index over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient returns the shared client used for every request of a run.
// Connection pooling is left to http.Transport.
func NewHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxConns
	transport.MaxConnsPerHost = maxConns

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// NewClient creates a client for the index at baseURL. httpClient is shared
// and must be safe for concurrent use.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(30*time.Second, 16)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// DocumentsURL returns the endpoint documents are posted to
func (c *Client) DocumentsURL(index string) string {
	return fmt.Sprintf("%s/indexes/%s/documents?primaryKey=id", c.baseURL, url.PathEscape(index))
}

// AddDocuments adds or replaces documents, matched by id. docs is either a
// single document or a slice of them. Any 2xx status is a success, even
// when the body is not a task summary or cannot be read.
func (c *Client) AddDocuments(ctx context.Context, index string, docs any) (*Task, error) {
	body, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("marshal documents: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.DocumentsURL(index), bytes.NewReader(body))
	if err != nil && !errors.Is(err, errReadBody) {
		return nil, err
	}

	task := &Task{}
	_ = json.Unmarshal(raw, task)
	return task, nil
}

// Stats fetches document statistics for an index
func (c *Client) Stats(ctx context.Context, index string) (*IndexStats, error) {
	u := fmt.Sprintf("%s/indexes/%s/stats", c.baseURL, url.PathEscape(index))
	raw, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	var stats IndexStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &stats, nil
}

// Health checks that the index service is available
func (c *Client) Health(ctx context.Context) error {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("index not available: %w", err)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return fmt.Errorf("unmarshal health: %w", err)
	}
	if health.Status != "available" {
		return fmt.Errorf("index status %q", health.Status)
	}
	return nil
}

// do performs a request and returns the body of a 2xx response. A 2xx
// whose body fails to read returns an error wrapping errReadBody.
func (c *Client) do(ctx context.Context, method, u string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errReadBody, err)
	}
	return raw, nil
}
