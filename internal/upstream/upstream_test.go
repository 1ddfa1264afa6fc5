package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResp(status int, payload any) *http.Response {
	raw, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(raw))),
	}
}

func completion(text string) map[string]any {
	return map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": text}}},
	}
}

func userMsg(text string) []models.ChatMessage {
	return []models.ChatMessage{{Role: "user", Content: models.TextContent(text)}}
}

func TestNew_DropsUnusableRoutes(t *testing.T) {
	r := New([]Route{
		{APIKey: "", Model: "m", Label: "no-key"},
		{APIKey: "k", Model: "", Label: "no-model"},
	}, "", "")
	if r.HasRoutes() {
		t.Error("HasRoutes() = true, want false for unusable routes")
	}
}

func TestComplete_OrderedFailover(t *testing.T) {
	r := New([]Route{
		{APIKey: "key-primary", Model: "m1", Label: "primary"},
		{APIKey: "key-secondary", Model: "m2", Label: "secondary"},
	}, "https://aicenghub.example", "aicenghub")

	var calls []string
	r.SetHTTPClient(&http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		auth := req.Header.Get("Authorization")
		calls = append(calls, auth)
		if auth == "Bearer key-primary" {
			return jsonResp(429, map[string]any{}), nil
		}
		if got := req.Header.Get("HTTP-Referer"); got != "https://aicenghub.example" {
			t.Errorf("HTTP-Referer = %q", got)
		}
		if got := req.Header.Get("X-Title"); got != "aicenghub" {
			t.Errorf("X-Title = %q", got)
		}
		return jsonResp(200, completion("from secondary")), nil
	})})

	text, label, err := r.Complete(context.Background(), userMsg("hi"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "from secondary" || label != "secondary" {
		t.Errorf("got (%q, %q), want from secondary", text, label)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want strictly sequential primary then secondary", calls)
	}
}

func TestComplete_AllRoutesFailed(t *testing.T) {
	r := New([]Route{{APIKey: "k", Model: "m", Label: "only"}}, "", "")
	r.SetHTTPClient(&http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResp(401, map[string]any{}), nil
	})})

	_, _, err := r.Complete(context.Background(), userMsg("hi"))
	if err == nil {
		t.Fatal("Complete() = nil error, want exhaustion")
	}
	if !strings.Contains(err.Error(), "invalid key or unauthorized model") {
		t.Errorf("error = %v, want the 401 mapping", err)
	}
}

func TestComplete_PayloadErrorMessagePreferred(t *testing.T) {
	r := New([]Route{{APIKey: "k", Model: "m", Label: "only"}}, "", "")
	r.SetHTTPClient(&http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResp(400, map[string]any{"error": map[string]any{"message": "model is overloaded"}}), nil
	})})

	_, _, err := r.Complete(context.Background(), userMsg("hi"))
	if err == nil || !strings.Contains(err.Error(), "model is overloaded") {
		t.Errorf("error = %v, want payload message", err)
	}
}

func TestComplete_EmptyAssistantResponse(t *testing.T) {
	r := New([]Route{{APIKey: "k", Model: "m", Label: "only"}}, "", "")
	r.SetHTTPClient(&http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResp(200, completion("   ")), nil
	})})

	_, _, err := r.Complete(context.Background(), userMsg("hi"))
	if err == nil || !strings.Contains(err.Error(), "empty-assistant-response") {
		t.Errorf("error = %v, want empty-assistant-response", err)
	}
}

func TestComplete_TextPartsContent(t *testing.T) {
	r := New([]Route{{APIKey: "k", Model: "m", Label: "only"}}, "", "")
	r.SetHTTPClient(&http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResp(200, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "part one "},
					map[string]any{"type": "text", "text": "part two"},
				},
			}}},
		}), nil
	})})

	text, _, err := r.Complete(context.Background(), userMsg("hi"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "part one part two" {
		t.Errorf("text = %q", text)
	}
}
