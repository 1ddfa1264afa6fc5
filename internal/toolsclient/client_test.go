package toolsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_NotConfigured(t *testing.T) {
	c := New("", "", 0)
	if _, err := c.Enrich(context.Background(), "https://x.example", "m"); KindOf(err) != KindNotConfigured {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindNotConfigured)
	}
	if err := c.Health(context.Background()); KindOf(err) != KindNotConfigured {
		t.Errorf("health kind = %q, want %q", KindOf(err), KindNotConfigured)
	}
}

func TestClient_HTTPStatusTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second)
	_, err := c.Search(context.Background(), "query")
	if KindOf(err) != "tools-http-502" {
		t.Errorf("error kind = %q, want tools-http-502", KindOf(err))
	}
}

func TestClient_UpstreamErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"backend exploded"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second)
	_, err := c.Enrich(context.Background(), "https://x.example", "m")
	if KindOf(err) != KindRequestFailed {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindRequestFailed)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second)
	_, err := c.Search(context.Background(), "slow")
	if KindOf(err) != KindTimeout {
		t.Errorf("error kind = %q, want %q", KindOf(err), KindTimeout)
	}
}

func TestClient_BearerAuth(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sekrit", time.Second)
	if _, err := c.Enrich(context.Background(), "https://x.example", "m"); err != nil {
		t.Fatalf("enrich error = %v", err)
	}
	if auth != "Bearer sekrit" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestNew_TimeoutClamped(t *testing.T) {
	if c := New("http://x", "", 100*time.Millisecond); c.timeout != time.Second {
		t.Errorf("timeout = %v, want clamp to 1s", c.timeout)
	}
	if c := New("http://x", "", time.Minute); c.timeout != 20*time.Second {
		t.Errorf("timeout = %v, want clamp to 20s", c.timeout)
	}
	if c := New("http://x", "", 0); c.timeout != 6*time.Second {
		t.Errorf("timeout = %v, want default 6s", c.timeout)
	}
}
