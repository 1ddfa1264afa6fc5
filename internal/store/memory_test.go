package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	return NewMemory()
}

// ─── Candidate upsert ────────────────────────────────────────

func TestUpsertCandidate_InsertDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL: "https://Example.com/Tool/",
		Name:         "Tool",
	})
	if err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}

	c, ok := s.GetCandidate("https://example.com/Tool")
	if !ok {
		t.Fatal("candidate not found under canonical URL")
	}
	if c.Status != models.CandidatePending {
		t.Errorf("Status = %q, want pending", c.Status)
	}
	if c.DiscoveredCount != 1 {
		t.Errorf("DiscoveredCount = %d, want 1", c.DiscoveredCount)
	}
}

func TestUpsertCandidate_ConflictSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://example.com/tool"

	if err := s.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL: url,
		Name:         "Rich Name",
		Description:  "rich description",
		PricingText:  "free",
	}); err != nil {
		t.Fatalf("first upsert error = %v", err)
	}

	// Sparser second observation must not undo richer prior data.
	if err := s.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL:      url,
		Name:              "Worse Name",
		PendingEnrichment: true,
		IsPaid:            true,
	}); err != nil {
		t.Fatalf("second upsert error = %v", err)
	}

	c, _ := s.GetCandidate(url)
	if c.DiscoveredCount != 2 {
		t.Errorf("DiscoveredCount = %d, want 2", c.DiscoveredCount)
	}
	if c.Name != "Rich Name" {
		t.Errorf("Name = %q, want first-non-empty to hold", c.Name)
	}
	if c.Description != "rich description" {
		t.Errorf("Description overwritten: %q", c.Description)
	}
	if !c.PendingEnrichment || !c.IsPaid {
		t.Error("booleans and pending_enrichment must always be overwritten")
	}
	if c.Status != models.CandidatePending {
		t.Errorf("Status = %q, want pending after re-observation", c.Status)
	}
}

// ─── Merge pass and backup ring ──────────────────────────────

func TestMerge_BackupSlotSelection(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		seedMax int
		want    int
	}{
		{0, 1},
		{29, 30},
		{30, 1},
	}
	for _, c := range cases {
		s := newTestStore(t)
		for slot := 1; slot <= c.seedMax; slot++ {
			s.SeedBackupSlot(slot)
		}
		res, err := s.MergePendingCandidates(ctx)
		if err != nil {
			t.Fatalf("merge error = %v", err)
		}
		if res.BackupSlot != c.want {
			t.Errorf("max=%d: BackupSlot = %d, want %d", c.seedMax, res.BackupSlot, c.want)
		}
	}
}

func TestMerge_PromotesSkipsAndTerminates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SeedMainLink(models.MainLink{CanonicalURL: "https://existing.example", Name: "Existing"})
	if err := s.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL: "https://fresh.example", Name: "Fresh", PricingTier: "freemium",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCandidate(ctx, models.CandidateLink{
		CanonicalURL: "https://existing.example", Name: "Duplicate",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := s.MergePendingCandidates(ctx)
	if err != nil {
		t.Fatalf("merge error = %v", err)
	}
	if res.Merged != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 merged 1 skipped", res)
	}

	links, _ := s.GetMainLinks(ctx)
	if len(links) != 2 {
		t.Fatalf("main links = %d, want 2", len(links))
	}
	for _, l := range links {
		if l.CanonicalURL == "https://fresh.example" {
			if l.PricingTier != models.PricingTrial {
				t.Errorf("unknown tier not collapsed to trial: %q", l.PricingTier)
			}
			if l.Source != "candidate-merge" {
				t.Errorf("Source = %q", l.Source)
			}
		}
	}

	// Both candidates are terminal now.
	for _, url := range []string{"https://fresh.example", "https://existing.example"} {
		c, _ := s.GetCandidate(url)
		if c.Status != models.CandidateMerged {
			t.Errorf("candidate %s status = %q, want merged", url, c.Status)
		}
		if c.MergedAt == nil {
			t.Errorf("candidate %s missing merged_at", url)
		}
	}

	// Re-running the merge never duplicates the existing MainLink.
	if _, err := s.MergePendingCandidates(ctx); err != nil {
		t.Fatal(err)
	}
	links, _ = s.GetMainLinks(ctx)
	if len(links) != 2 {
		t.Errorf("main links after second merge = %d, want 2", len(links))
	}
}

// ─── Queue ───────────────────────────────────────────────────

func TestClaimNextJob_OrderAndEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(10_000, 0).UTC()
	s.SetClock(func() time.Time { return now })

	future := now.Add(time.Hour)
	s.EnqueueScrapeJob(ctx, models.QueueJob{CanonicalURL: "https://later.example", NextRunAt: future})
	s.EnqueueScrapeJob(ctx, models.QueueJob{CanonicalURL: "https://due.example"})

	job, err := s.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim error = %v", err)
	}
	if job == nil || job.CanonicalURL != "https://due.example" {
		t.Fatalf("claimed %+v, want the due job", job)
	}
	if job.Status != models.JobProcessing || job.StartedAt == nil {
		t.Errorf("claimed job = %+v, want processing with started_at", job)
	}

	// The future job is not eligible yet.
	if next, _ := s.ClaimNextJob(ctx); next != nil {
		t.Errorf("claimed ineligible job: %+v", next)
	}
}

func TestClaimNextJob_Exclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnqueueScrapeJob(ctx, models.QueueJob{CanonicalURL: "https://one.example"})

	var mu sync.Mutex
	var claimed []*models.QueueJob
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNextJob(ctx)
			if err != nil {
				t.Errorf("claim error = %v", err)
				return
			}
			mu.Lock()
			claimed = append(claimed, job)
			mu.Unlock()
		}()
	}
	wg.Wait()

	got := 0
	for _, j := range claimed {
		if j != nil {
			got++
		}
	}
	if got != 1 {
		t.Errorf("%d workers claimed the single job, want exactly 1", got)
	}
}

func TestJobTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.EnqueueScrapeJob(ctx, models.QueueJob{CanonicalURL: "https://t.example"})

	job, _ := s.ClaimNextJob(ctx)
	retryAt := time.Now().Add(time.Minute)
	s.MarkJobRetry(ctx, job.ID, 1, retryAt, "boom")

	jobs := s.Jobs()
	if jobs[0].Status != models.JobRetry || jobs[0].Attempts != 1 || jobs[0].LastError != "boom" {
		t.Errorf("after retry: %+v", jobs[0])
	}

	// retry → processing → done.
	s.SetClock(func() time.Time { return retryAt.Add(time.Second) })
	job, _ = s.ClaimNextJob(ctx)
	if job == nil {
		t.Fatal("retry job not claimable after next_run_at")
	}
	if job.LastError != "" {
		t.Errorf("claim did not clear last_error: %q", job.LastError)
	}
	s.MarkJobDone(ctx, job.ID)
	if got := s.Jobs()[0]; got.Status != models.JobDone || got.FinishedAt == nil {
		t.Errorf("after done: %+v", got)
	}

	// Terminal states are not claimable.
	if j, _ := s.ClaimNextJob(ctx); j != nil {
		t.Errorf("claimed terminal job: %+v", j)
	}
}

// ─── Enrichment and stale refresh ────────────────────────────

func TestUpdateMainLinkEnrichment_FirstNonEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SeedMainLink(models.MainLink{
		CanonicalURL: "https://t.example", Name: "Kept Name", Description: "old",
	})

	err := s.UpdateMainLinkEnrichment(ctx, models.MainLink{
		CanonicalURL: "https://t.example",
		Description:  "new description",
		IsPaid:       true,
	})
	if err != nil {
		t.Fatalf("update error = %v", err)
	}

	links, _ := s.GetMainLinks(ctx)
	l := links[0]
	if l.Name != "Kept Name" {
		t.Errorf("empty new name overwrote existing: %q", l.Name)
	}
	if l.Description != "new description" {
		t.Errorf("non-empty description not applied: %q", l.Description)
	}
	if !l.IsPaid {
		t.Error("booleans must always be overwritten")
	}
	if l.LastCheckedAt == nil {
		t.Error("last_checked_at not set")
	}
}

func TestEnqueueStaleRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_000_000, 0).UTC()
	s.SetClock(func() time.Time { return now })

	old := now.Add(-100 * time.Hour)
	fresh := now.Add(-time.Hour)
	s.SeedMainLink(models.MainLink{CanonicalURL: "https://never.example", Name: "a"})
	s.SeedMainLink(models.MainLink{CanonicalURL: "https://old.example", Name: "b", LastCheckedAt: &old})
	s.SeedMainLink(models.MainLink{CanonicalURL: "https://fresh.example", Name: "c", LastCheckedAt: &fresh})

	// An open job suppresses re-enqueue for that URL.
	s.EnqueueScrapeJob(ctx, models.QueueJob{CanonicalURL: "https://old.example"})

	n, err := s.EnqueueStaleRefresh(ctx, 48, 200)
	if err != nil {
		t.Fatalf("stale refresh error = %v", err)
	}
	if n != 1 {
		t.Fatalf("enqueued %d, want 1 (never-checked only)", n)
	}

	var found bool
	for _, j := range s.Jobs() {
		if j.CanonicalURL == "https://never.example" && j.Reason == "scheduled-refresh" {
			found = true
		}
	}
	if !found {
		t.Error("never-checked link was not enqueued")
	}
}

func TestRefreshMainPricingTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SeedMainLink(models.MainLink{CanonicalURL: "https://a.example", Name: "a", PricingTier: "freemium"})
	s.SeedMainLink(models.MainLink{CanonicalURL: "https://b.example", Name: "b", PricingTier: models.PricingFree})

	n, err := s.RefreshMainPricingTiers(ctx)
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if n != 1 {
		t.Errorf("updated %d rows, want 1", n)
	}
	links, _ := s.GetMainLinks(ctx)
	for _, l := range links {
		if l.CanonicalURL == "https://a.example" && l.PricingTier != models.PricingTrial {
			t.Errorf("tier = %q, want trial", l.PricingTier)
		}
	}
}
