// Package store provides the persisted entity operations over the link
// catalog: main links, candidates, the scrape queue, tool-check audits, and
// rolling backups. Handlers depend on this interface, making it easy to swap
// between the in-memory implementation (dev, tests) and PostgreSQL
// (production).
package store

import (
	"context"
	"time"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// Store is the catalog persistence interface.
type Store interface {
	// EnsureReady runs the idempotent schema migration.
	EnsureReady(ctx context.Context) error

	// GetMainLinks returns catalog entries ordered by lowercase name.
	GetMainLinks(ctx context.Context) ([]models.MainLink, error)

	// GetMainURLSet returns the set of canonical MainLink URLs.
	GetMainURLSet(ctx context.Context) (map[string]bool, error)

	// UpsertCandidate inserts or bumps a candidate, keyed by canonical URL.
	// On conflict: discovered_count+1, timestamps refreshed, evidence
	// overwritten, status forced back to pending, string fields only
	// overwritten when the existing value is empty, booleans and
	// pending_enrichment always overwritten.
	UpsertCandidate(ctx context.Context, c models.CandidateLink) error

	// UpdateMainLinkEnrichment updates a MainLink by canonical URL: string
	// fields only when the new value is non-empty, booleans and
	// last_checked_at always.
	UpdateMainLinkEnrichment(ctx context.Context, link models.MainLink) error

	// InsertToolCheck appends an audit row, joined to a MainLink when one
	// matches on canonical URL.
	InsertToolCheck(ctx context.Context, check models.ToolCheck) error

	// EnqueueScrapeJob inserts a pending queue job.
	EnqueueScrapeJob(ctx context.Context, job models.QueueJob) error

	// ClaimNextJob atomically claims the next eligible job (status pending or
	// retry, next_run_at due), ordered by (next_run_at, created_at, id),
	// skipping locked rows. Returns nil when the queue is empty.
	ClaimNextJob(ctx context.Context) (*models.QueueJob, error)

	// MarkJobDone transitions a processing job to done.
	MarkJobDone(ctx context.Context, id int64) error

	// MarkJobRetry schedules a processing job for retry.
	MarkJobRetry(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) error

	// MarkJobFailed terminally fails a processing job.
	MarkJobFailed(ctx context.Context, id int64, attempts int, lastError string) error

	// MergePendingCandidates snapshots the catalog to a rolling backup slot,
	// then promotes pending candidates into main links (conflict-do-nothing)
	// and terminates them.
	MergePendingCandidates(ctx context.Context) (MergeResult, error)

	// RefreshMainPricingTiers re-canonicalizes pricing tiers and tags across
	// the catalog, updating only rows that changed. Returns the update count.
	RefreshMainPricingTiers(ctx context.Context) (int, error)

	// EnqueueStaleRefresh enqueues scheduled-refresh jobs for main links not
	// checked within staleHours, oldest first, capped at batchSize, skipping
	// URLs with an already pending/retrying/processing job. Returns the
	// number enqueued.
	EnqueueStaleRefresh(ctx context.Context, staleHours, batchSize int) (int, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close()
}

// MergeResult reports what a merge pass did.
type MergeResult struct {
	BackupSlot int
	Merged     int
	Rejected   int
	Skipped    int
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
