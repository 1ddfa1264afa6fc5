// Package upstream routes chat completions to the configured OpenRouter
// routes with strictly ordered failover: a later route is only attempted
// after the previous one fails.
package upstream

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

	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// Endpoint is the upstream chat-completions URL.
const Endpoint = "https://openrouter.ai/api/v1/chat/completions"

// requestTimeout is the per-route abort budget.
const requestTimeout = 30 * time.Second

// ErrNoRoutes is returned when no route carries both an API key and a model.
var ErrNoRoutes = errors.New("no upstream routes configured")

// ErrEmptyResponse is returned when a route answers 2xx with no usable text.
var ErrEmptyResponse = errors.New("empty-assistant-response")

// Route is one ordered upstream target.
type Route struct {
	APIKey string
	Model  string
	Label  string
}

// Router fans a conversation out across routes in order.
type Router struct {
	routes  []Route
	referer string
	title   string
	client  *http.Client
}

// New creates a router over the usable routes (API key and model both set).
func New(routes []Route, referer, title string) *Router {
	var usable []Route
	for _, r := range routes {
		if r.APIKey != "" && r.Model != "" {
			usable = append(usable, r)
		}
	}
	return &Router{
		routes:  usable,
		referer: referer,
		title:   title,
		client:  &http.Client{},
	}
}

// HasRoutes reports whether at least one usable route exists.
func (r *Router) HasRoutes() bool { return len(r.routes) > 0 }

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete tries each route in order and returns the first successful
// assistant text with the winning route's label. Per-route failures are
// logged and swallowed; only exhaustion surfaces.
func (r *Router) Complete(ctx context.Context, messages []models.ChatMessage) (string, string, error) {
	if !r.HasRoutes() {
		return "", "", ErrNoRoutes
	}

	var lastErr error
	for _, route := range r.routes {
		text, err := r.call(ctx, route, messages)
		if err != nil {
			log.Warn().Str("route", route.Label).Str("model", route.Model).Err(err).
				Msg("upstream route failed, trying next")
			lastErr = err
			continue
		}
		return text, route.Label, nil
	}
	return "", "", fmt.Errorf("all routes failed, last error: %w", lastErr)
}

func (r *Router) call(ctx context.Context, route Route, messages []models.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, _ := json.Marshal(chatRequest{Model: route.Model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+route.APIKey)
	if r.referer != "" {
		req.Header.Set("HTTP-Referer", r.referer)
	}
	if r.title != "" {
		req.Header.Set("X-Title", r.title)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.New(statusError(resp.StatusCode, raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(extractContent(parsed.Choices[0].Message.Content))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// statusError maps a non-2xx response to a readable message, preferring the
// payload's own error.message.
func statusError(status int, raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "invalid key or unauthorized model"
	case http.StatusPaymentRequired:
		return "insufficient credits on this route"
	case http.StatusTooManyRequests:
		return "provider-rate-limited"
	default:
		return fmt.Sprintf("HTTP %d", status)
	}
}

// extractContent accepts the string and text-part-array content shapes.
func extractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}
	return ""
}

// SetHTTPClient overrides the HTTP client (tests).
func (r *Router) SetHTTPClient(c *http.Client) { r.client = c }
