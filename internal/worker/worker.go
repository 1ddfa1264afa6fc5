// Package worker runs the durable enrichment queue: claim one job at a time,
// enrich it through the tools service, apply the result through the store,
// and complete or retry with quadratic backoff. Multiple worker processes
// coordinate exclusively via the store's skip-locked claim.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/store"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// workerSourceLabel marks candidates discovered by queue enrichment.
const workerSourceLabel = "queue-worker"

// maxWorkerSources bounds per-item source lists in the worker path.
const maxWorkerSources = 12

// ToolsAPI is the slice of the tools client the worker uses.
type ToolsAPI interface {
	Enrich(ctx context.Context, url, mode string) (map[string]any, error)
}

// Worker is the long-running queue loop.
type Worker struct {
	store        store.Store
	tools        ToolsAPI
	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	now          func() time.Time
}

// New creates a worker. Configuration values are assumed pre-clamped by the
// config package.
func New(st store.Store, tools ToolsAPI, pollInterval time.Duration, maxAttempts int, backoffBase time.Duration) *Worker {
	return &Worker{
		store:        st,
		tools:        tools,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		backoffBase:  backoffBase,
		now:          time.Now,
	}
}

// SetClock injects a clock (tests).
func (w *Worker) SetClock(now func() time.Time) { w.now = now }

// Run blocks until ctx is canceled, claiming and running one job at a time.
func (w *Worker) Run(ctx context.Context) {
	log.Info().
		Dur("poll_interval", w.pollInterval).
		Int("max_attempts", w.maxAttempts).
		Dur("backoff_base", w.backoffBase).
		Msg("queue worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue worker stopped")
			return
		default:
		}

		job, err := w.store.ClaimNextJob(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("queue claim failed")
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.RunOne(ctx, job)
	}
}

// RunOne executes one claimed job to its terminal or retry state.
func (w *Worker) RunOne(ctx context.Context, job *models.QueueJob) {
	if err := w.enrich(ctx, job); err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.store.MarkJobDone(ctx, job.ID); err != nil {
		log.Warn().Err(err).Int64("job_id", job.ID).Msg("job done transition failed")
		return
	}
	log.Info().Int64("job_id", job.ID).Str("url", job.CanonicalURL).
		Str("reason", job.Reason).Msg("job done")
}

// enrich runs the job body: a tools enrichment applied to the candidate
// (always) and the main link (when one matches), plus an audit row.
func (w *Worker) enrich(ctx context.Context, job *models.QueueJob) error {
	requested := job.RequestedURL
	if requested == "" {
		requested = job.CanonicalURL
	}

	data, err := w.tools.Enrich(ctx, requested, "queue-enrichment")
	if err != nil {
		return err
	}
	items := toolsclient.NormalizeItems(data, maxWorkerSources)
	if len(items) == 0 {
		return &toolsclient.Error{Kind: toolsclient.KindEnrichEmpty}
	}
	item := items[0]
	now := w.now().UTC()

	// Candidate first: enrichment writes are keyed by canonical URL, and the
	// first-non-empty rules make reapplication safe.
	verified := now
	if err := w.store.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL:  item.CanonicalURL,
		FinalURL:      item.FinalURL,
		ContentType:   item.ContentType,
		Name:          item.Name,
		Description:   item.Description,
		Abilities:     item.Abilities,
		PricingTier:   item.PricingTier,
		Tags:          item.Tags,
		PricingText:   item.PricingText,
		IsFree:        item.IsFree,
		HasTrial:      item.HasTrial,
		IsPaid:        item.IsPaid,
		VerifiedAt:    &verified,
		EvidenceURLs:  item.Sources,
		Evidence:      map[string]any{"tools_item": item.Raw, "job_reason": job.Reason},
		DiscoveredBy:  workerSourceLabel,
		CaptureReason: job.Reason,
	}); err != nil {
		return err
	}

	mainSet, err := w.store.GetMainURLSet(ctx)
	if err != nil {
		return err
	}
	if mainSet[item.CanonicalURL] {
		if err := w.store.UpdateMainLinkEnrichment(ctx, models.MainLink{
			CanonicalURL:  item.CanonicalURL,
			Name:          item.Name,
			Description:   item.Description,
			Abilities:     item.Abilities,
			PricingTier:   item.PricingTier,
			Tags:          item.Tags,
			PricingText:   item.PricingText,
			IsFree:        item.IsFree,
			HasTrial:      item.HasTrial,
			IsPaid:        item.IsPaid,
			LastCheckedAt: &now,
		}); err != nil {
			return err
		}
	}

	return w.store.InsertToolCheck(ctx, models.ToolCheck{
		CanonicalURL: item.CanonicalURL,
		CheckedAt:    now,
		Result:       map[string]any{"item": item.Raw, "job_reason": job.Reason},
		Confidence:   item.Confidence,
		Sources:      item.Sources,
	})
}

// fail increments attempts and either retries with quadratic backoff or marks
// the job terminally failed.
func (w *Worker) fail(ctx context.Context, job *models.QueueJob, cause error) {
	attempts := job.Attempts + 1
	if attempts >= w.maxAttempts {
		if err := w.store.MarkJobFailed(ctx, job.ID, attempts, cause.Error()); err != nil {
			log.Warn().Err(err).Int64("job_id", job.ID).Msg("job failed transition failed")
		}
		log.Warn().Int64("job_id", job.ID).Int("attempts", attempts).Err(cause).
			Msg("job failed terminally")
		return
	}

	delay := time.Duration(attempts*attempts) * w.backoffBase
	nextRun := w.now().UTC().Add(delay)
	if err := w.store.MarkJobRetry(ctx, job.ID, attempts, nextRun, cause.Error()); err != nil {
		log.Warn().Err(err).Int64("job_id", job.ID).Msg("job retry transition failed")
	}
	log.Info().Int64("job_id", job.ID).Int("attempts", attempts).
		Dur("backoff", delay).Err(cause).Msg("job scheduled for retry")
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
