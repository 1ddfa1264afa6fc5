// Package handlers implements the HTTP handlers for the Juleha chat gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aicenghub/juleha-gateway/internal/chat"
	"github.com/aicenghub/juleha-gateway/internal/config"
	"github.com/aicenghub/juleha-gateway/internal/ratelimit"
	"github.com/aicenghub/juleha-gateway/internal/store"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/internal/upstream"
)

// Handlers holds all handler dependencies. Store may be nil: a missing or
// unreachable store degrades candidate capture and the catalog snippet but
// never fails a chat request.
type Handlers struct {
	Config   *config.Config
	Store    store.Store
	Limiter  *ratelimit.Limiter
	Tools    *toolsclient.Client
	Upstream *upstream.Router

	// Fetch backs the per-request verifier; nil means safefetch.Fetch.
	// A fresh verifier (and its three-slot gate) is built per request so one
	// slow request cannot starve another.
	Fetch chat.FetchFunc
}

// New creates a Handlers instance using the real safe fetcher.
func New(cfg *config.Config, st store.Store, limiter *ratelimit.Limiter, tools *toolsclient.Client, up *upstream.Router) *Handlers {
	return &Handlers{
		Config:   cfg,
		Store:    st,
		Limiter:  limiter,
		Tools:    tools,
		Upstream: up,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
