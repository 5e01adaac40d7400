package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 20 * time.Second

// UpstreamError is a non-2xx reply from a completion provider. Status
// drives the failover state machine: 5xx and 429 are retryable against the
// same provider, any other 4xx moves on to the next provider immediately.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the error warrants another attempt against the
// same provider. Timeouts and transport failures count as retryable.
func Retryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500 || ue.Status == http.StatusTooManyRequests
	}
	// Transport errors, timeouts and cancellations all behave like a
	// transient upstream failure.
	return true
}

// ClientOption configures a provider client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every completion call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client calls one OpenAI-compatible completion endpoint. Each call takes
// the next key from the pool.
type Client struct {
	name       string
	baseURL    string
	keys       *KeyPool
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a provider client. name labels errors, logs and
// metrics; baseURL is the API root, e.g. https://api.openai.com/v1.
func NewClient(name, baseURL string, keys *KeyPool, opts ...ClientOption) *Client {
	c := &Client{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		keys:       keys,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider label.
func (c *Client) Name() string { return c.name }

// Configured reports whether the client has at least one API key.
func (c *Client) Configured() bool { return !c.keys.Empty() }

// CreateCompletion sends one completion request. Non-2xx replies become
// *UpstreamError so the caller can classify them.
func (c *Client) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.keys.Next())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			Provider: c.name,
			Status:   resp.StatusCode,
			Message:  parseErrorMessage(respBody),
		}
	}

	var result CompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
