package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/extract"
	"github.com/aicenghub/juleha-gateway/internal/store"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/internal/urlutil"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// Capture reasons and queue reasons written by the pipeline.
const (
	ReasonPendingToolsDown   = "pending-enrichment-tools-down"
	ReasonAssistantVerified  = "assistant-verified-link"
	QueueReasonToolsDown     = "tools-down-pending-enrichment"
	QueueReasonCandidate     = "candidate-enrichment"
	discoveredByChatPipeline = "juleha-chat"
)

// maxCapturePerResponse bounds how many assistant links one response may add.
const maxCapturePerResponse = 4

var docsSuffixes = []string{"/docs", "/documentation", "/help"}

// Audit identifies the request for candidate provenance fields.
type Audit struct {
	IPHash      string
	SessionHash string
}

// ── Tools-down fallback ─────────────────────────────────────

// CapturePendingURLs persists each user-provided URL as a pending-enrichment
// candidate and enqueues its tools-down queue job. Returns how many were
// persisted.
func CapturePendingURLs(ctx context.Context, st store.Store, canonicals []string, audit Audit) int {
	if st == nil {
		return 0
	}
	captured := 0
	for _, canonical := range canonicals {
		err := st.UpsertCandidate(ctx, models.CandidateLink{
			CanonicalURL:      canonical,
			PendingEnrichment: true,
			CaptureReason:     ReasonPendingToolsDown,
			DiscoveredBy:      discoveredByChatPipeline,
			SubmitterIPHash:   audit.IPHash,
			SubmitterSessHash: audit.SessionHash,
			Evidence:          map[string]any{"reason": ReasonPendingToolsDown},
		})
		if err != nil {
			log.Warn().Err(err).Str("url", canonical).Msg("pending candidate upsert failed")
			continue
		}
		if err := st.EnqueueScrapeJob(ctx, models.QueueJob{
			CanonicalURL: canonical,
			RequestedURL: canonical,
			Reason:       QueueReasonToolsDown,
		}); err != nil {
			log.Warn().Err(err).Str("url", canonical).Msg("pending job enqueue failed")
			continue
		}
		captured++
	}
	return captured
}

// ── Live-tools enrichment application ───────────────────────

// ApplyEnrichment writes one normalized tools item through the store: the
// matching MainLink is updated when one exists, otherwise a candidate is
// upserted; a ToolCheck row is always appended.
func ApplyEnrichment(ctx context.Context, st store.Store, item toolsclient.Item, audit Audit) {
	if st == nil {
		return
	}
	mainSet, err := st.GetMainURLSet(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("main url set unavailable, skipping enrichment apply")
		return
	}
	now := time.Now().UTC()

	if mainSet[item.CanonicalURL] {
		if err := st.UpdateMainLinkEnrichment(ctx, models.MainLink{
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
			FaviconURL:    item.FaviconURL,
			ThumbnailURL:  item.ThumbnailURL,
			LastCheckedAt: &now,
		}); err != nil {
			log.Warn().Err(err).Str("url", item.CanonicalURL).Msg("main link enrichment failed")
		}
	} else {
		verified := now
		if err := st.UpsertCandidate(ctx, models.CandidateLink{
			CanonicalURL:      item.CanonicalURL,
			FinalURL:          item.FinalURL,
			ContentType:       item.ContentType,
			Name:              item.Name,
			Description:       item.Description,
			Abilities:         item.Abilities,
			PricingTier:       item.PricingTier,
			Tags:              item.Tags,
			PricingText:       item.PricingText,
			IsFree:            item.IsFree,
			HasTrial:          item.HasTrial,
			IsPaid:            item.IsPaid,
			VerifiedAt:        &verified,
			EvidenceURLs:      item.Sources,
			Evidence:          map[string]any{"tools_item": item.Raw},
			DiscoveredBy:      discoveredByChatPipeline,
			SubmitterIPHash:   audit.IPHash,
			SubmitterSessHash: audit.SessionHash,
			CaptureReason:     "live-tools-enrichment",
		}); err != nil {
			log.Warn().Err(err).Str("url", item.CanonicalURL).Msg("candidate enrichment upsert failed")
		}
	}

	if err := st.InsertToolCheck(ctx, models.ToolCheck{
		CanonicalURL: item.CanonicalURL,
		CheckedAt:    now,
		Result:       map[string]any{"item": item.Raw},
		Confidence:   item.Confidence,
		Sources:      item.Sources,
	}); err != nil {
		log.Warn().Err(err).Str("url", item.CanonicalURL).Msg("tool check insert failed")
	}
}

// ── Assistant candidate capture (legacy path) ───────────────

// ExternalTaggedURLs returns the canonical URLs appearing on assistant-output
// lines carrying the external tag phrase, and whether any tagged line exists.
func ExternalTaggedURLs(assistantText string) (map[string]bool, bool) {
	tagged := make(map[string]bool)
	found := false
	for _, line := range strings.Split(assistantText, "\n") {
		if !strings.Contains(strings.ToLower(line), ExternalTagPhrase) {
			continue
		}
		found = true
		_, canonicals := urlutil.Extract(line, 0)
		for _, c := range canonicals {
			tagged[c] = true
		}
	}
	return tagged, found
}

// CaptureCandidates runs the legacy capture flow over verified-ok assistant
// URLs: landing page plus well-known docs suffixes are fetched for metadata,
// abilities are inferred, a candidate is upserted and an enrichment job
// enqueued. At most maxCapturePerResponse URLs are captured.
func CaptureCandidates(ctx context.Context, st store.Store, v *Verifier, verified []VerifiedLink, tagged map[string]bool, hasTags bool, mainSet map[string]bool, audit Audit) int {
	if st == nil {
		return 0
	}
	captured := 0
	for _, link := range verified {
		if captured >= maxCapturePerResponse {
			break
		}
		if !link.OK || mainSet[link.CanonicalURL] {
			continue
		}
		if hasTags && !tagged[link.CanonicalURL] {
			continue
		}

		meta := fetchPageMeta(ctx, v, link.CanonicalURL)
		name := meta.title
		if name == "" {
			name = link.Title
		}
		combined := name + " " + meta.description
		isFree, hasTrial, isPaid := models.PricingFlags(combined)
		verifiedAt := time.Now().UTC()

		err := st.UpsertCandidate(ctx, models.CandidateLink{
			CanonicalURL:      link.CanonicalURL,
			FinalURL:          link.FinalURL,
			HTTPStatus:        link.Status,
			ContentType:       link.ContentType,
			Name:              name,
			Description:       meta.description,
			Abilities:         models.InferAbilities(combined),
			PricingTier:       models.TierFromFlags(isFree, hasTrial, isPaid),
			IsFree:            isFree,
			HasTrial:          hasTrial,
			IsPaid:            isPaid,
			VerifiedAt:        &verifiedAt,
			EvidenceURLs:      meta.evidence,
			Evidence:          map[string]any{"title": name, "description": meta.description},
			DiscoveredBy:      discoveredByChatPipeline,
			SubmitterIPHash:   audit.IPHash,
			SubmitterSessHash: audit.SessionHash,
			CaptureReason:     ReasonAssistantVerified,
		})
		if err != nil {
			log.Warn().Err(err).Str("url", link.CanonicalURL).Msg("candidate capture upsert failed")
			continue
		}
		if err := st.EnqueueScrapeJob(ctx, models.QueueJob{
			CanonicalURL: link.CanonicalURL,
			RequestedURL: link.CanonicalURL,
			Reason:       QueueReasonCandidate,
		}); err != nil {
			log.Warn().Err(err).Str("url", link.CanonicalURL).Msg("candidate job enqueue failed")
		}
		captured++
	}
	return captured
}

type pageMeta struct {
	title       string
	description string
	evidence    []string
}

// fetchPageMeta pulls title/description from the landing page and up to three
// well-known docs suffixes, stopping once both fields are filled.
func fetchPageMeta(ctx context.Context, v *Verifier, canonical string) pageMeta {
	var meta pageMeta
	targets := append([]string{canonical}, docsTargets(canonical)...)
	for _, target := range targets {
		if meta.title != "" && meta.description != "" {
			break
		}
		cfg := v.Base
		res, err := v.fetchGated(ctx, target, cfg)
		if err != nil || !res.OK || !strings.HasPrefix(res.ContentType, "text/html") {
			continue
		}
		meta.evidence = append(meta.evidence, res.FinalURL)
		page := htmlMeta(res.Body)
		if meta.title == "" {
			meta.title = page.title
		}
		if meta.description == "" {
			meta.description = page.description
		}
	}
	return meta
}

func htmlMeta(body string) pageMeta {
	m := extract.FromHTML(body)
	return pageMeta{title: m.Title, description: m.Description}
}

func docsTargets(canonical string) []string {
	out := make([]string, 0, len(docsSuffixes))
	for _, suffix := range docsSuffixes {
		out = append(out, strings.TrimRight(canonical, "/")+suffix)
	}
	return out
}
