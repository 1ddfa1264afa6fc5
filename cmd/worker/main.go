// Queue worker — claims enrichment jobs from the durable queue and applies
// tools-service results back to the catalog. Run one or more instances; the
// skip-locked claim keeps them from stepping on each other.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/config"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/internal/worker"
	"github.com/aicenghub/juleha-gateway/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())

	st := server.OpenStore(ctx, cfg)
	if st == nil {
		log.Fatal().Msg("queue worker requires a reachable store")
	}
	defer st.Close()

	tools := toolsclient.New(cfg.Tools.BaseURL, cfg.Tools.APIKey, cfg.Tools.Timeout)
	if err := tools.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("tools service unhealthy at startup; jobs will retry")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down gracefully")
		cancel()
	}()

	w := worker.New(st, tools, cfg.Worker.PollInterval, cfg.Worker.MaxAttempts, cfg.Worker.BackoffBase)
	w.Run(ctx)
}
