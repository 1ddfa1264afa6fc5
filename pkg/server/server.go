// Package server assembles the gateway: configuration, store, rate limiter,
// tools client, upstream router, and the HTTP handler.
package server

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/api"
	"github.com/aicenghub/juleha-gateway/internal/api/handlers"
	"github.com/aicenghub/juleha-gateway/internal/config"
	"github.com/aicenghub/juleha-gateway/internal/ratelimit"
	"github.com/aicenghub/juleha-gateway/internal/store"
	"github.com/aicenghub/juleha-gateway/internal/telemetry"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/internal/upstream"
)

// Server is the assembled gateway.
type Server struct {
	Port         int
	Handler      http.Handler
	Store        store.Store // nil when the store is unavailable (degraded)
	ShutdownFunc func(context.Context) error
}

// New builds the gateway from environment configuration. A missing or
// unreachable store is logged and degrades candidate capture and the catalog
// snippet; it does not fail startup.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	st := OpenStore(ctx, cfg)

	limiter := ratelimit.New()
	tools := toolsclient.New(cfg.Tools.BaseURL, cfg.Tools.APIKey, cfg.Tools.Timeout)
	up := upstream.New([]upstream.Route{
		{APIKey: cfg.Routes.Primary.APIKey, Model: cfg.Routes.Primary.Model, Label: cfg.Routes.Primary.Label},
		{APIKey: cfg.Routes.Secondary.APIKey, Model: cfg.Routes.Secondary.Model, Label: cfg.Routes.Secondary.Label},
		{APIKey: cfg.Routes.Tertiary.APIKey, Model: cfg.Routes.Tertiary.Model, Label: cfg.Routes.Tertiary.Label},
	}, cfg.Routes.Referer, cfg.Routes.AppTitle)
	if !up.HasRoutes() {
		log.Warn().Msg("no upstream routes configured; chat requests will fail until keys are set")
	}

	h := handlers.New(cfg, st, limiter, tools, up)

	return &Server{
		Port:         cfg.Port,
		Handler:      api.NewRouter(cfg, h),
		Store:        st,
		ShutdownFunc: shutdown,
	}, nil
}

// OpenStore connects the configured store and runs its migration, returning
// nil on any failure so callers degrade instead of crashing.
func OpenStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.Database.InMemory {
		log.Info().Msg("using in-memory store")
		return store.NewMemory()
	}
	if cfg.Database.URL == "" {
		log.Warn().Msg("no database configured; store features degraded")
		return nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Database.URL)
	if err != nil {
		log.Warn().Err(err).Msg("store unreachable; store features degraded")
		return nil
	}
	if err := pg.EnsureReady(ctx); err != nil {
		log.Warn().Err(err).Msg("store migration failed; store features degraded")
		pg.Close()
		return nil
	}
	return pg
}
