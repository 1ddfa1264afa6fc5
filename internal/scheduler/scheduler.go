// Package scheduler enqueues stale-refresh jobs for catalog entries whose
// last check is older than the staleness window. It is a periodic one-shot,
// invoked by an external timer.
package scheduler

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/store"
)

const (
	minStaleHours = 24
	maxStaleHours = 72
)

// Scheduler enqueues scheduled-refresh jobs.
type Scheduler struct {
	store      store.Store
	staleHours int // zero: pick a random value in 24..72 per run
	batchSize  int
}

// New creates a scheduler. staleHours zero means each run picks a uniform
// random integer in 24..72; non-zero values are assumed pre-clamped.
func New(st store.Store, staleHours, batchSize int) *Scheduler {
	return &Scheduler{store: st, staleHours: staleHours, batchSize: batchSize}
}

// Run performs one enqueue pass and returns the number of jobs added.
func (s *Scheduler) Run(ctx context.Context) (int, error) {
	hours := s.staleHours
	if hours == 0 {
		hours = minStaleHours + rand.Intn(maxStaleHours-minStaleHours+1)
	}

	enqueued, err := s.store.EnqueueStaleRefresh(ctx, hours, s.batchSize)
	if err != nil {
		return 0, err
	}
	log.Info().Int("enqueued", enqueued).Int("stale_hours", hours).
		Int("batch_size", s.batchSize).Msg("stale-refresh pass complete")
	return enqueued, nil
}
