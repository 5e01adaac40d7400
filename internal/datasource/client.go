// Package datasource reads and writes the Q&A corpus through its
// Postgres-compatible REST interface. Queries are expressed as URL
// parameters against a single table resource; the search read path tries a
// full-text operator first and falls back to a substring match when the
// primary strategy errors.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Question is one row of the knowledge base.
type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
	Slug     string `json:"slug,omitempty"`
	Views    int    `json:"views"`
}

// SearchResult is the outcome of a search read. Fallback reports whether
// the substring strategy produced the items.
type SearchResult struct {
	Items    []Question
	Fallback bool
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTable overrides the collection resource name.
func WithTable(table string) ClientOption {
	return func(c *Client) {
		c.table = table
	}
}

// Client talks to the REST data source.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a data source client. baseURL is the REST root, e.g.
// https://db.example.com/rest/v1.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		table:      "questions",
		timeout:    defaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs the primary full-text strategy on the normalized query and,
// if it errors, the substring fallback exactly once. A fallback failure
// surfaces as an error with an empty item list, never a partial one.
func (c *Client) Search(ctx context.Context, normalized string, limit int, category string) (SearchResult, error) {
	items, err := c.fullTextSearch(ctx, normalized, limit, category)
	if err == nil {
		return SearchResult{Items: items}, nil
	}
	primaryErr := err

	items, err = c.substringSearch(ctx, normalized, limit, category)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search failed (primary: %v): %w", primaryErr, err)
	}
	return SearchResult{Items: items, Fallback: true}, nil
}

func (c *Client) fullTextSearch(ctx context.Context, query string, limit int, category string) ([]Question, error) {
	params := url.Values{}
	params.Set("select", "id,question,answer,category,slug,views")
	params.Set("question", "wfts."+strings.ReplaceAll(query, " ", "+"))
	if category != "" {
		params.Set("category", "eq."+category)
	}
	params.Set("order", "views.desc")
	params.Set("limit", strconv.Itoa(limit))
	return c.getRows(ctx, params)
}

func (c *Client) substringSearch(ctx context.Context, query string, limit int, category string) ([]Question, error) {
	pattern := "*" + strings.ReplaceAll(query, " ", "*") + "*"
	params := url.Values{}
	params.Set("select", "id,question,answer,category,slug,views")
	params.Set("or", fmt.Sprintf("(question.ilike.%s,answer.ilike.%s)", pattern, pattern))
	if category != "" {
		params.Set("category", "eq."+category)
	}
	params.Set("order", "views.desc")
	params.Set("limit", strconv.Itoa(limit))
	return c.getRows(ctx, params)
}

func (c *Client) getRows(ctx context.Context, params url.Values) ([]Question, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, c.table, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data source error (status %d): %s", resp.StatusCode, truncateBody(body))
	}

	var rows []Question
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}
	return rows, nil
}

// IncrementViews bumps a question's view counter through an RPC endpoint.
func (c *Client) IncrementViews(ctx context.Context, questionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"question_id": questionID})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/increment_views", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("view increment failed (status %d)", resp.StatusCode)
	}
	return nil
}

// Ping verifies the data source is reachable. Used by the health probe.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s?select=id&limit=1", c.baseURL, c.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
