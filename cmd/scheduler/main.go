// Stale-refresh scheduler — a one-shot that enqueues refresh jobs for catalog
// entries whose last check is stale. Invoke from cron or a systemd timer.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/config"
	"github.com/aicenghub/juleha-gateway/internal/scheduler"
	"github.com/aicenghub/juleha-gateway/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	ctx := context.Background()

	st := server.OpenStore(ctx, cfg)
	if st == nil {
		log.Fatal().Msg("scheduler requires a reachable store")
	}
	defer st.Close()

	sched := scheduler.New(st, cfg.Scheduler.StaleHours, cfg.Scheduler.BatchSize)
	if _, err := sched.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("stale-refresh pass failed")
	}
}
