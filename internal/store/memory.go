// Package store — in-memory Store implementation.
// Used when PostgreSQL is not available (local dev, tests). Mirrors the
// observable semantics of the PostgreSQL store, including exclusive queue
// claim and the rolling backup ring.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aicenghub/juleha-gateway/internal/urlutil"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// MemoryStore implements Store with in-memory maps guarded by one mutex.
type MemoryStore struct {
	mu         sync.Mutex
	mainLinks  map[string]*models.MainLink      // key: canonical URL
	candidates map[string]*models.CandidateLink // key: canonical URL
	jobs       []*models.QueueJob
	toolChecks []*models.ToolCheck
	backups    map[int]*models.LinkBackup // key: slot
	nextJobID  int64

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		mainLinks:  make(map[string]*models.MainLink),
		candidates: make(map[string]*models.CandidateLink),
		backups:    make(map[int]*models.LinkBackup),
		now:        time.Now,
	}
}

// SetClock injects a clock (tests).
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) EnsureReady(ctx context.Context) error { return nil }
func (s *MemoryStore) Ping(ctx context.Context) error        { return nil }
func (s *MemoryStore) Close()                                {}

// ── Main links ──────────────────────────────────────────────

func (s *MemoryStore) GetMainLinks(ctx context.Context) ([]models.MainLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MainLink, 0, len(s.mainLinks))
	for _, m := range s.mainLinks {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *MemoryStore) GetMainURLSet(ctx context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(s.mainLinks))
	for u := range s.mainLinks {
		set[u] = true
	}
	return set, nil
}

// SeedMainLink inserts a catalog entry directly (tests, dev fixtures).
func (s *MemoryStore) SeedMainLink(link models.MainLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical, err := urlutil.Canonical(link.CanonicalURL)
	if err != nil {
		return
	}
	link.CanonicalURL = canonical
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	s.mainLinks[canonical] = &link
}

func (s *MemoryStore) UpdateMainLinkEnrichment(ctx context.Context, link models.MainLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.mainLinks[link.CanonicalURL]
	if !ok {
		return nil
	}
	if link.Name != "" {
		existing.Name = link.Name
	}
	if link.Description != "" {
		existing.Description = link.Description
	}
	if len(link.Abilities) > 0 {
		existing.Abilities = link.Abilities
	}
	if link.PricingTier != "" {
		existing.PricingTier = link.PricingTier
	}
	if len(link.Tags) > 0 {
		existing.Tags = link.Tags
	}
	if link.PricingText != "" {
		existing.PricingText = link.PricingText
	}
	if link.FaviconURL != "" {
		existing.FaviconURL = link.FaviconURL
	}
	if link.ThumbnailURL != "" {
		existing.ThumbnailURL = link.ThumbnailURL
	}
	existing.IsFree = link.IsFree
	existing.HasTrial = link.HasTrial
	existing.IsPaid = link.IsPaid
	existing.PendingEnrichment = link.PendingEnrichment
	now := s.now().UTC()
	if link.LastCheckedAt != nil {
		existing.LastCheckedAt = link.LastCheckedAt
	} else {
		existing.LastCheckedAt = &now
	}
	existing.UpdatedAt = now
	return nil
}

// ── Candidates ──────────────────────────────────────────────

func (s *MemoryStore) UpsertCandidate(ctx context.Context, c models.CandidateLink) error {
	canonical, err := urlutil.Canonical(c.CanonicalURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	existing, ok := s.candidates[canonical]
	if !ok {
		c.ID = uuid.NewString()
		c.CanonicalURL = canonical
		c.Status = models.CandidatePending
		c.DiscoveredCount = 1
		c.LastSeenAt = now
		c.CreatedAt = now
		c.UpdatedAt = now
		s.candidates[canonical] = &c
		return nil
	}

	existing.DiscoveredCount++
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	existing.EvidenceURLs = c.EvidenceURLs
	existing.Evidence = c.Evidence
	existing.Status = models.CandidatePending
	setIfEmpty(&existing.FinalURL, c.FinalURL)
	if existing.HTTPStatus == 0 {
		existing.HTTPStatus = c.HTTPStatus
	}
	setIfEmpty(&existing.ContentType, c.ContentType)
	setIfEmpty(&existing.Name, c.Name)
	setIfEmpty(&existing.Description, c.Description)
	if len(existing.Abilities) == 0 {
		existing.Abilities = c.Abilities
	}
	if existing.PricingTier == "" {
		existing.PricingTier = c.PricingTier
	}
	if len(existing.Tags) == 0 {
		existing.Tags = c.Tags
	}
	setIfEmpty(&existing.PricingText, c.PricingText)
	setIfEmpty(&existing.DiscoveredBy, c.DiscoveredBy)
	setIfEmpty(&existing.CaptureReason, c.CaptureReason)
	existing.IsFree = c.IsFree
	existing.HasTrial = c.HasTrial
	existing.IsPaid = c.IsPaid
	existing.PendingEnrichment = c.PendingEnrichment
	if c.VerifiedAt != nil && (existing.VerifiedAt == nil || c.VerifiedAt.After(*existing.VerifiedAt)) {
		existing.VerifiedAt = c.VerifiedAt
	}
	return nil
}

// GetCandidate returns a copy of a candidate by canonical URL (tests).
func (s *MemoryStore) GetCandidate(canonicalURL string) (models.CandidateLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[canonicalURL]
	if !ok {
		return models.CandidateLink{}, false
	}
	return *c, true
}

// ── Tool checks ─────────────────────────────────────────────

func (s *MemoryStore) InsertToolCheck(ctx context.Context, check models.ToolCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check.ID = uuid.NewString()
	if check.CheckedAt.IsZero() {
		check.CheckedAt = s.now().UTC()
	}
	if check.Confidence != nil {
		v := clamp01(*check.Confidence)
		check.Confidence = &v
	}
	if m, ok := s.mainLinks[check.CanonicalURL]; ok {
		check.MainLinkID = m.ID
	}
	s.toolChecks = append(s.toolChecks, &check)
	return nil
}

// ToolChecks returns copies of all audit rows (tests).
func (s *MemoryStore) ToolChecks() []models.ToolCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ToolCheck, 0, len(s.toolChecks))
	for _, t := range s.toolChecks {
		out = append(out, *t)
	}
	return out
}

// ── Queue ───────────────────────────────────────────────────

func (s *MemoryStore) EnqueueScrapeJob(ctx context.Context, job models.QueueJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	s.nextJobID++
	job.ID = s.nextJobID
	job.Status = models.JobPending
	job.Attempts = 0
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs = append(s.jobs, &job)
	return nil
}

func (s *MemoryStore) ClaimNextJob(ctx context.Context) (*models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()

	var eligible []*models.QueueJob
	for _, j := range s.jobs {
		if (j.Status == models.JobPending || j.Status == models.JobRetry) && !j.NextRunAt.After(now) {
			eligible = append(eligible, j)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.NextRunAt.Equal(b.NextRunAt) {
			return a.NextRunAt.Before(b.NextRunAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	j := eligible[0]
	j.Status = models.JobProcessing
	started := now
	j.StartedAt = &started
	j.LastError = ""
	j.UpdatedAt = now
	out := *j
	return &out, nil
}

func (s *MemoryStore) MarkJobDone(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findJob(id); j != nil && j.Status == models.JobProcessing {
		now := s.now().UTC()
		j.Status = models.JobDone
		j.FinishedAt = &now
		j.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) MarkJobRetry(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findJob(id); j != nil && j.Status == models.JobProcessing {
		j.Status = models.JobRetry
		j.Attempts = attempts
		j.NextRunAt = nextRunAt
		j.LastError = truncateErr(lastError)
		j.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *MemoryStore) MarkJobFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findJob(id); j != nil && j.Status == models.JobProcessing {
		now := s.now().UTC()
		j.Status = models.JobFailed
		j.Attempts = attempts
		j.FinishedAt = &now
		j.LastError = truncateErr(lastError)
		j.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) findJob(id int64) *models.QueueJob {
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// Jobs returns copies of all queue rows (tests).
func (s *MemoryStore) Jobs() []models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueueJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// ── Merge and maintenance ───────────────────────────────────

func (s *MemoryStore) MergePendingCandidates(ctx context.Context) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res MergeResult
	now := s.now().UTC()

	// Rolling backup before any promotion.
	var links []models.MainLink
	for _, m := range s.mainLinks {
		links = append(links, *m)
	}
	sort.Slice(links, func(i, j int) bool {
		return strings.ToLower(links[i].Name) < strings.ToLower(links[j].Name)
	})
	payload, _ := json.Marshal(links)
	maxSlot := 0
	for slot := range s.backups {
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	res.BackupSlot = models.NextBackupSlot(maxSlot)
	s.backups[res.BackupSlot] = &models.LinkBackup{
		Slot: res.BackupSlot, Payload: string(payload), CreatedAt: now,
	}

	var pendings []*models.CandidateLink
	for _, c := range s.candidates {
		if c.Status == models.CandidatePending {
			pendings = append(pendings, c)
		}
	}
	sort.Slice(pendings, func(i, j int) bool {
		return pendings[i].CreatedAt.Before(pendings[j].CreatedAt)
	})

	for _, c := range pendings {
		canonical, err := urlutil.Canonical(c.CanonicalURL)
		if err != nil {
			c.Status = models.CandidateRejected
			c.UpdatedAt = now
			res.Rejected++
			continue
		}
		if _, exists := s.mainLinks[canonical]; exists {
			c.Status = models.CandidateMerged
			merged := now
			c.MergedAt = &merged
			c.UpdatedAt = now
			res.Skipped++
			continue
		}
		s.mainLinks[canonical] = &models.MainLink{
			ID:                uuid.NewString(),
			CanonicalURL:      canonical,
			Name:              c.Name,
			Description:       c.Description,
			Abilities:         c.Abilities,
			PricingTier:       models.CanonicalPricingTier(string(c.PricingTier)),
			Tags:              c.Tags,
			PricingText:       c.PricingText,
			IsFree:            c.IsFree,
			HasTrial:          c.HasTrial,
			IsPaid:            c.IsPaid,
			PendingEnrichment: c.PendingEnrichment,
			Source:            "candidate-merge",
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		c.Status = models.CandidateMerged
		merged := now
		c.MergedAt = &merged
		c.UpdatedAt = now
		res.Merged++
	}
	return res, nil
}

// Backups returns the backup ring (tests).
func (s *MemoryStore) Backups() map[int]models.LinkBackup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]models.LinkBackup, len(s.backups))
	for slot, b := range s.backups {
		out[slot] = *b
	}
	return out
}

// SeedBackupSlot writes a backup slot directly (tests).
func (s *MemoryStore) SeedBackupSlot(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[slot] = &models.LinkBackup{Slot: slot, CreatedAt: s.now().UTC()}
}

func (s *MemoryStore) RefreshMainPricingTiers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, m := range s.mainLinks {
		tier := models.CanonicalPricingTier(string(m.PricingTier))
		tags := models.CanonicalTags(tagStrings(m.Tags))
		if tier == m.PricingTier && equalStrings(tagStrings(tags), tagStrings(m.Tags)) {
			continue
		}
		m.PricingTier = tier
		m.Tags = tags
		m.UpdatedAt = s.now().UTC()
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) EnqueueStaleRefresh(ctx context.Context, staleHours, batchSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	cutoff := now.Add(-time.Duration(staleHours) * time.Hour)

	open := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == models.JobPending || j.Status == models.JobRetry || j.Status == models.JobProcessing {
			open[j.CanonicalURL] = true
		}
	}

	var stale []*models.MainLink
	for _, m := range s.mainLinks {
		if m.LastCheckedAt == nil || m.LastCheckedAt.Before(cutoff) {
			if !open[m.CanonicalURL] {
				stale = append(stale, m)
			}
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i].LastCheckedAt, stale[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	count := 0
	for _, m := range stale {
		if count >= batchSize {
			break
		}
		s.nextJobID++
		s.jobs = append(s.jobs, &models.QueueJob{
			ID:           s.nextJobID,
			CanonicalURL: m.CanonicalURL,
			RequestedURL: m.CanonicalURL,
			Reason:       "scheduled-refresh",
			Status:       models.JobPending,
			NextRunAt:    now,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		count++
	}
	return count, nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
