// Package toolsclient is the thin typed client for the external enrichment and
// search service. It performs no retries; the durable queue is the retry
// mechanism.
package toolsclient

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

// ── Error taxonomy ──────────────────────────────────────────

const (
	KindNotConfigured = "tools-not-configured"
	KindTimeout       = "tools-timeout"
	KindRequestFailed = "tools-request-failed"
	KindEnrichEmpty   = "tools-enrich-empty"
)

// Error is a tools-service failure with a string-typed kind.
// HTTP-status failures use kind "tools-http-{status}".
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind + ": " + e.Err.Error()
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the tools error kind, or "" for other errors.
func KindOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// ── Client ──────────────────────────────────────────────────

// Client calls the tools service with bearer auth and a bounded timeout.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// New creates a client. The timeout is clamped to 1..20s, default 6s.
// An empty base URL yields a client whose every call fails with
// tools-not-configured.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	if timeout > 20*time.Second {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Enrich asks the service to enrich a single URL.
func (c *Client) Enrich(ctx context.Context, url, mode string) (map[string]any, error) {
	return c.post(ctx, "/enrich", map[string]any{"url": url, "mode": mode})
}

// Search runs a free-text tool search.
func (c *Client) Search(ctx context.Context, query string) (map[string]any, error) {
	return c.post(ctx, "/search", map[string]any{"query": query})
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) error {
	if !c.Configured() {
		return &Error{Kind: KindNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &Error{Kind: KindRequestFailed, Err: err}
	}
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: fmt.Sprintf("tools-http-%d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	if !c.Configured() {
		return nil, &Error{Kind: KindNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindRequestFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindRequestFailed, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: fmt.Sprintf("tools-http-%d", resp.StatusCode)}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &Error{Kind: KindRequestFailed, Err: err}
	}
	// An upstream {error} payload is a failure even on HTTP 200.
	if msg, ok := data["error"].(string); ok && msg != "" {
		return nil, &Error{Kind: KindRequestFailed, Err: errors.New(msg)}
	}
	return data, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindRequestFailed, Err: err}
}
