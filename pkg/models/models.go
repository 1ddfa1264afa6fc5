package models

import (
	"strings"
	"time"
)

// ── Abilities ────────────────────────────────────────────────

type Ability string

const (
	AbilityText       Ability = "text"
	AbilityImage      Ability = "image"
	AbilityVideo      Ability = "video"
	AbilityAudio      Ability = "audio"
	AbilityCode       Ability = "code"
	AbilityAutomation Ability = "automation"
	AbilityLearning   Ability = "learning"
)

// abilityOrder fixes the canonical output order for ability sets.
var abilityOrder = []Ability{
	AbilityText, AbilityImage, AbilityVideo, AbilityAudio,
	AbilityCode, AbilityAutomation, AbilityLearning,
}

var knownAbilities = map[Ability]bool{
	AbilityText: true, AbilityImage: true, AbilityVideo: true,
	AbilityAudio: true, AbilityCode: true, AbilityAutomation: true,
	AbilityLearning: true,
}

// CanonicalAbilities lowercases, trims, drops unknown values and duplicates,
// and returns the set in canonical order.
func CanonicalAbilities(raw []string) []Ability {
	seen := make(map[Ability]bool, len(raw))
	for _, r := range raw {
		a := Ability(strings.ToLower(strings.TrimSpace(r)))
		if knownAbilities[a] {
			seen[a] = true
		}
	}
	var out []Ability
	for _, a := range abilityOrder {
		if seen[a] {
			out = append(out, a)
		}
	}
	return out
}

// ── Pricing tier ─────────────────────────────────────────────

type PricingTier string

const (
	PricingFree  PricingTier = "free"
	PricingTrial PricingTier = "trial"
	PricingPaid  PricingTier = "paid"
)

// CanonicalPricingTier collapses unknown values to trial.
func CanonicalPricingTier(raw string) PricingTier {
	switch PricingTier(strings.ToLower(strings.TrimSpace(raw))) {
	case PricingFree:
		return PricingFree
	case PricingPaid:
		return PricingPaid
	default:
		return PricingTrial
	}
}

// ── Tags ─────────────────────────────────────────────────────

type Tag string

const TagWatermarked Tag = "watermarked"

// CanonicalTags keeps only known tags, deduplicated.
func CanonicalTags(raw []string) []Tag {
	var out []Tag
	seen := make(map[Tag]bool, len(raw))
	for _, r := range raw {
		t := Tag(strings.ToLower(strings.TrimSpace(r)))
		if t == TagWatermarked && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ── MainLink ─────────────────────────────────────────────────

// MainLink is a curated catalog entry. CanonicalURL is its identity.
type MainLink struct {
	ID                string      `json:"id" db:"id"`
	CanonicalURL      string      `json:"canonical_url" db:"canonical_url"`
	Name              string      `json:"name" db:"name"`
	Description       string      `json:"description" db:"description"`
	Abilities         []Ability   `json:"abilities" db:"abilities"`
	PricingTier       PricingTier `json:"pricing_tier" db:"pricing_tier"`
	Tags              []Tag       `json:"tags" db:"tags"`
	PricingText       string      `json:"pricing_text" db:"pricing_text"`
	IsFree            bool        `json:"is_free" db:"is_free"`
	HasTrial          bool        `json:"has_trial" db:"has_trial"`
	IsPaid            bool        `json:"is_paid" db:"is_paid"`
	FaviconURL        string      `json:"favicon_url" db:"favicon_url"`
	ThumbnailURL      string      `json:"thumbnail_url" db:"thumbnail_url"`
	PendingEnrichment bool        `json:"pending_enrichment" db:"pending_enrichment"`
	LastCheckedAt     *time.Time  `json:"last_checked_at" db:"last_checked_at"`
	Source            string      `json:"source" db:"source"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// ── CandidateLink ────────────────────────────────────────────

type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateMerged   CandidateStatus = "merged"
	CandidateRejected CandidateStatus = "rejected"
)

// CandidateLink is a publicly observed URL awaiting human-reviewed promotion.
// Merged and rejected candidates are terminal.
type CandidateLink struct {
	ID                string          `json:"id" db:"id"`
	CanonicalURL      string          `json:"canonical_url" db:"canonical_url"`
	FinalURL          string          `json:"final_url" db:"final_url"`
	HTTPStatus        int             `json:"http_status" db:"http_status"`
	ContentType       string          `json:"content_type" db:"content_type"`
	Name              string          `json:"name" db:"name"`
	Description       string          `json:"description" db:"description"`
	Abilities         []Ability       `json:"abilities" db:"abilities"`
	PricingTier       PricingTier     `json:"pricing_tier" db:"pricing_tier"`
	Tags              []Tag           `json:"tags" db:"tags"`
	PricingText       string          `json:"pricing_text" db:"pricing_text"`
	IsFree            bool            `json:"is_free" db:"is_free"`
	HasTrial          bool            `json:"has_trial" db:"has_trial"`
	IsPaid            bool            `json:"is_paid" db:"is_paid"`
	PendingEnrichment bool            `json:"pending_enrichment" db:"pending_enrichment"`
	VerifiedAt        *time.Time      `json:"verified_at" db:"verified_at"`
	EvidenceURLs      []string        `json:"evidence_urls" db:"evidence_urls"`
	Evidence          map[string]any  `json:"evidence" db:"evidence"`
	Status            CandidateStatus `json:"status" db:"status"`
	DiscoveredCount   int             `json:"discovered_count" db:"discovered_count"`
	DiscoveredBy      string          `json:"discovered_by" db:"discovered_by"`
	SubmitterIPHash   string          `json:"submitter_ip_hash" db:"submitter_ip_hash"`
	SubmitterSessHash string          `json:"submitter_session_hash" db:"submitter_session_hash"`
	CaptureReason     string          `json:"capture_reason" db:"capture_reason"`
	LastSeenAt        time.Time       `json:"last_seen_at" db:"last_seen_at"`
	MergedAt          *time.Time      `json:"merged_at" db:"merged_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// ── QueueJob ─────────────────────────────────────────────────

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobRetry      JobStatus = "retry"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// QueueJob is one durable enrichment unit. Transitions:
// pending → processing → (done | retry | failed); retry → processing.
type QueueJob struct {
	ID           int64      `json:"id" db:"id"`
	CanonicalURL string     `json:"canonical_url" db:"canonical_url"`
	RequestedURL string     `json:"requested_url" db:"requested_url"`
	Reason       string     `json:"reason" db:"reason"`
	Status       JobStatus  `json:"status" db:"status"`
	Attempts     int        `json:"attempts" db:"attempts"`
	NextRunAt    time.Time  `json:"next_run_at" db:"next_run_at"`
	Payload      string     `json:"payload" db:"payload"`
	LastError    string     `json:"last_error" db:"last_error"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
}

// ── ToolCheck ────────────────────────────────────────────────

// ToolCheck is an append-only audit record of a single enrichment observation.
type ToolCheck struct {
	ID           string         `json:"id" db:"id"`
	MainLinkID   string         `json:"main_link_id" db:"main_link_id"`
	CanonicalURL string         `json:"canonical_url" db:"canonical_url"`
	CheckedAt    time.Time      `json:"checked_at" db:"checked_at"`
	Result       map[string]any `json:"result" db:"result"`
	Confidence   *float64       `json:"confidence" db:"confidence"`
	Sources      []string       `json:"sources" db:"sources"`
}

// ── LinkBackup ───────────────────────────────────────────────

// LinkBackup is a rolling snapshot of the catalog, slot in 1..30.
type LinkBackup struct {
	Slot      int       `json:"slot" db:"slot"`
	Payload   string    `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BackupSlots is the size of the rolling backup ring.
const BackupSlots = 30

// NextBackupSlot computes the slot to overwrite: (max_existing mod 30) + 1.
func NextBackupSlot(maxExisting int) int {
	return (maxExisting % BackupSlots) + 1
}

// ── Ability inference ────────────────────────────────────────

var abilityKeywords = map[Ability][]string{
	AbilityText:       {"text", "write", "writing", "copy", "chat", "summar", "translat", "grammar"},
	AbilityImage:      {"image", "photo", "picture", "art", "logo", "design", "draw", "avatar"},
	AbilityVideo:      {"video", "film", "animation", "clip", "subtitle"},
	AbilityAudio:      {"audio", "voice", "speech", "music", "sound", "podcast", "transcrib"},
	AbilityCode:       {"code", "coding", "developer", "programming", "sql", "api", "debug"},
	AbilityAutomation: {"automat", "workflow", "agent", "scrap", "bot", "integrat", "no-code"},
	AbilityLearning:   {"learn", "course", "tutor", "study", "education", "quiz", "flashcard"},
}

// InferAbilities scans the combined name+description+pricing text and adds an
// ability when any of its keywords appears as a case-insensitive substring.
func InferAbilities(text string) []Ability {
	lower := strings.ToLower(text)
	var out []Ability
	for _, a := range abilityOrder {
		for _, kw := range abilityKeywords[a] {
			if strings.Contains(lower, kw) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// ── Pricing flags ────────────────────────────────────────────

// PricingFlags derives the three boolean pricing flags from a keyword scan of
// free-form pricing text.
func PricingFlags(pricingText string) (isFree, hasTrial, isPaid bool) {
	lower := strings.ToLower(pricingText)
	isFree = strings.Contains(lower, "free")
	hasTrial = strings.Contains(lower, "trial") || strings.Contains(lower, "demo")
	isPaid = strings.Contains(lower, "paid") || strings.Contains(lower, "premium") ||
		strings.Contains(lower, "subscription") || strings.Contains(lower, "$") ||
		strings.Contains(lower, "/mo")
	return isFree, hasTrial, isPaid
}

// TierFromFlags maps pricing flags to a tier; paid wins over free when both
// are set, trial only when nothing else matched.
func TierFromFlags(isFree, hasTrial, isPaid bool) PricingTier {
	switch {
	case isPaid:
		return PricingPaid
	case isFree:
		return PricingFree
	default:
		return PricingTrial
	}
}
