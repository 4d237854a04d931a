package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
)

const (
	// DefaultTimeout bounds every outbound request
	DefaultTimeout = 60 * time.Second

	// UserAgent is the stable identifier sent on every request
	UserAgent = "aem-commerce-prerender/1.0"

	maxErrorBody = 1024
)

// Error is a structured non-2xx response error. The correlation header
// x-error is included when the upstream sets it.
type Error struct {
	Operation   string
	StatusCode  int
	Correlation string
	Body        string
}

func (e *Error) Error() string {
	if e.Correlation != "" {
		return fmt.Sprintf("%s: status %d (x-error: %s): %s", e.Operation, e.StatusCode, e.Correlation, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Options configures a single request
type Options struct {
	Method  string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Client performs JSON HTTP requests with timeout, cancellation and
// structured errors. No component performs raw socket I/O outside it.
type Client struct {
	http *http.Client
}

// NewClient creates a client with the default timeout
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: DefaultTimeout},
	}
}

// NewClientWithHTTP wraps an existing http.Client (tests inject httptest)
func NewClientWithHTTP(h *http.Client) *Client {
	return &Client{http: h}
}

// Request performs one HTTP request. The operation name labels logs and
// errors. Returns the decoded body as raw JSON; nil on 204.
func (c *Client) Request(ctx context.Context, name, url string, opts Options) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", name, err)
	}

	req.Header.Set("User-Agent", UserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", name, err)
	}
	defer resp.Body.Close()

	logger := log.WithOperation(name)
	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Operation:   name,
			StatusCode:  resp.StatusCode,
			Correlation: resp.Header.Get("x-error"),
			Body:        truncate(string(data), maxErrorBody),
		}
	}

	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// RequestJSON performs a request and decodes the response into out
func (c *Client) RequestJSON(ctx context.Context, name, url string, opts Options, out interface{}) error {
	raw, err := c.Request(ctx, name, url, opts)
	if err != nil {
		return err
	}
	if raw == nil || out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
