package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/urlutil"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Store on a pgxpool connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

// NewPostgres connects and pings the database.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	return &PostgresStore{pool: pool, dsn: dsn}, nil
}

// EnsureReady applies all pending goose migrations from the embedded SQL.
func (s *PostgresStore) EnsureReady(ctx context.Context) error {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", s.dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }

// ── Main links ──────────────────────────────────────────────

const mainLinkColumns = `id, canonical_url, name, description, abilities, pricing_tier, tags,
	pricing_text, is_free, has_trial, is_paid, favicon_url, thumbnail_url,
	pending_enrichment, last_checked_at, source, created_at, updated_at`

func scanMainLink(row pgx.Row) (models.MainLink, error) {
	var m models.MainLink
	var abilities, tags []string
	err := row.Scan(&m.ID, &m.CanonicalURL, &m.Name, &m.Description, &abilities, &m.PricingTier,
		&tags, &m.PricingText, &m.IsFree, &m.HasTrial, &m.IsPaid, &m.FaviconURL,
		&m.ThumbnailURL, &m.PendingEnrichment, &m.LastCheckedAt, &m.Source,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	m.Abilities = models.CanonicalAbilities(abilities)
	m.Tags = models.CanonicalTags(tags)
	return m, nil
}

func (s *PostgresStore) GetMainLinks(ctx context.Context) ([]models.MainLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mainLinkColumns+` FROM main_links ORDER BY LOWER(name) ASC`)
	if err != nil {
		return nil, fmt.Errorf("list main links: %w", err)
	}
	defer rows.Close()

	var out []models.MainLink
	for rows.Next() {
		m, err := scanMainLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan main link: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMainURLSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT canonical_url FROM main_links`)
	if err != nil {
		return nil, fmt.Errorf("main url set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		if c, err := urlutil.Canonical(u); err == nil {
			set[c] = true
		}
	}
	return set, rows.Err()
}

func (s *PostgresStore) UpdateMainLinkEnrichment(ctx context.Context, link models.MainLink) error {
	lastChecked := link.LastCheckedAt
	if lastChecked == nil {
		now := time.Now().UTC()
		lastChecked = &now
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE main_links SET
			name          = CASE WHEN $2 = '' THEN name ELSE $2 END,
			description   = CASE WHEN $3 = '' THEN description ELSE $3 END,
			abilities     = CASE WHEN cardinality($4::text[]) = 0 THEN abilities ELSE $4 END,
			pricing_tier  = CASE WHEN $5 = '' THEN pricing_tier ELSE $5 END,
			tags          = CASE WHEN cardinality($6::text[]) = 0 THEN tags ELSE $6 END,
			pricing_text  = CASE WHEN $7 = '' THEN pricing_text ELSE $7 END,
			favicon_url   = CASE WHEN $8 = '' THEN favicon_url ELSE $8 END,
			thumbnail_url = CASE WHEN $9 = '' THEN thumbnail_url ELSE $9 END,
			is_free            = $10,
			has_trial          = $11,
			is_paid            = $12,
			pending_enrichment = $13,
			last_checked_at    = $14,
			updated_at         = NOW()
		WHERE canonical_url = $1`,
		link.CanonicalURL, link.Name, link.Description, abilityStrings(link.Abilities),
		string(link.PricingTier), tagStrings(link.Tags), link.PricingText,
		link.FaviconURL, link.ThumbnailURL, link.IsFree, link.HasTrial, link.IsPaid,
		link.PendingEnrichment, lastChecked)
	if err != nil {
		return fmt.Errorf("update main link: %w", err)
	}
	return nil
}

// ── Candidates ──────────────────────────────────────────────

// UpsertCandidate relies on the unique index on canonical_url to serialize
// concurrent writers; the first-non-empty policy is expressed in SQL so it
// holds under concurrency.
func (s *PostgresStore) UpsertCandidate(ctx context.Context, c models.CandidateLink) error {
	canonical, err := urlutil.Canonical(c.CanonicalURL)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	evidence, _ := json.Marshal(orEmptyMap(c.Evidence))

	_, err = s.pool.Exec(ctx, `
		INSERT INTO candidate_links (
			id, canonical_url, final_url, http_status, content_type, name, description,
			abilities, pricing_tier, tags, pricing_text, is_free, has_trial, is_paid,
			pending_enrichment, verified_at, evidence_urls, evidence, status,
			discovered_count, discovered_by, submitter_ip_hash, submitter_session_hash,
			capture_reason, last_seen_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, 'pending', 1, $19, $20, $21, $22, NOW(), NOW(), NOW()
		)
		ON CONFLICT (canonical_url) DO UPDATE SET
			discovered_count = candidate_links.discovered_count + 1,
			last_seen_at     = NOW(),
			updated_at       = NOW(),
			evidence_urls    = EXCLUDED.evidence_urls,
			evidence         = EXCLUDED.evidence,
			status           = 'pending',
			final_url    = CASE WHEN candidate_links.final_url = '' THEN EXCLUDED.final_url ELSE candidate_links.final_url END,
			http_status  = CASE WHEN candidate_links.http_status = 0 THEN EXCLUDED.http_status ELSE candidate_links.http_status END,
			content_type = CASE WHEN candidate_links.content_type = '' THEN EXCLUDED.content_type ELSE candidate_links.content_type END,
			name         = CASE WHEN candidate_links.name = '' THEN EXCLUDED.name ELSE candidate_links.name END,
			description  = CASE WHEN candidate_links.description = '' THEN EXCLUDED.description ELSE candidate_links.description END,
			abilities    = CASE WHEN cardinality(candidate_links.abilities) = 0 THEN EXCLUDED.abilities ELSE candidate_links.abilities END,
			pricing_tier = CASE WHEN candidate_links.pricing_tier = '' THEN EXCLUDED.pricing_tier ELSE candidate_links.pricing_tier END,
			tags         = CASE WHEN cardinality(candidate_links.tags) = 0 THEN EXCLUDED.tags ELSE candidate_links.tags END,
			pricing_text = CASE WHEN candidate_links.pricing_text = '' THEN EXCLUDED.pricing_text ELSE candidate_links.pricing_text END,
			discovered_by  = CASE WHEN candidate_links.discovered_by = '' THEN EXCLUDED.discovered_by ELSE candidate_links.discovered_by END,
			capture_reason = CASE WHEN candidate_links.capture_reason = '' THEN EXCLUDED.capture_reason ELSE candidate_links.capture_reason END,
			is_free            = EXCLUDED.is_free,
			has_trial          = EXCLUDED.has_trial,
			is_paid            = EXCLUDED.is_paid,
			pending_enrichment = EXCLUDED.pending_enrichment,
			verified_at        = GREATEST(candidate_links.verified_at, EXCLUDED.verified_at)`,
		uuid.NewString(), canonical, c.FinalURL, c.HTTPStatus, c.ContentType, c.Name,
		c.Description, abilityStrings(c.Abilities), string(c.PricingTier), tagStrings(c.Tags),
		c.PricingText, c.IsFree, c.HasTrial, c.IsPaid, c.PendingEnrichment, c.VerifiedAt,
		orEmptySlice(c.EvidenceURLs), evidence, c.DiscoveredBy, c.SubmitterIPHash,
		c.SubmitterSessHash, c.CaptureReason)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

// ── Tool checks ─────────────────────────────────────────────

func (s *PostgresStore) InsertToolCheck(ctx context.Context, check models.ToolCheck) error {
	var confidence *float64
	if check.Confidence != nil {
		v := clamp01(*check.Confidence)
		confidence = &v
	}
	result, _ := json.Marshal(orEmptyMap(check.Result))
	checkedAt := check.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_checks (id, main_link_id, canonical_url, checked_at, result, confidence, sources)
		VALUES ($1, (SELECT id FROM main_links WHERE canonical_url = $2), $2, $3, $4, $5, $6)`,
		uuid.NewString(), check.CanonicalURL, checkedAt, result, confidence,
		orEmptySlice(check.Sources))
	if err != nil {
		return fmt.Errorf("insert tool check: %w", err)
	}
	return nil
}

// ── Queue ───────────────────────────────────────────────────

func (s *PostgresStore) EnqueueScrapeJob(ctx context.Context, job models.QueueJob) error {
	nextRun := job.NextRunAt
	if nextRun.IsZero() {
		nextRun = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_jobs (canonical_url, requested_url, reason, status, attempts, next_run_at, payload)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5)`,
		job.CanonicalURL, job.RequestedURL, job.Reason, nextRun, job.Payload)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

const jobColumns = `id, canonical_url, requested_url, reason, status, attempts, next_run_at,
	payload, last_error, created_at, updated_at, started_at, finished_at`

func scanJob(row pgx.Row) (*models.QueueJob, error) {
	var j models.QueueJob
	err := row.Scan(&j.ID, &j.CanonicalURL, &j.RequestedURL, &j.Reason, &j.Status,
		&j.Attempts, &j.NextRunAt, &j.Payload, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		&j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimNextJob uses FOR UPDATE SKIP LOCKED so concurrent workers coordinate
// exclusively through row locks.
func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*models.QueueJob, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM scrape_jobs
			WHERE status IN ('pending', 'retry') AND next_run_at <= NOW()
			ORDER BY next_run_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE scrape_jobs j
		SET status = 'processing', started_at = NOW(), last_error = '', updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING `+qualify("j", jobColumns))
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkJobDone(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs SET status = 'done', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

func (s *PostgresStore) MarkJobRetry(ctx context.Context, id int64, attempts int, nextRunAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'retry', attempts = $2, next_run_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, attempts, nextRunAt, truncateErr(lastError))
	return err
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'failed', attempts = $2, finished_at = NOW(), last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id, attempts, truncateErr(lastError))
	return err
}

// ── Merge and maintenance ───────────────────────────────────

func (s *PostgresStore) MergePendingCandidates(ctx context.Context) (MergeResult, error) {
	var res MergeResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("merge begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Rolling backup before any promotion.
	links, err := s.GetMainLinks(ctx)
	if err != nil {
		return res, err
	}
	payload, _ := json.Marshal(links)
	var maxSlot int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(slot), 0) FROM link_backups`).Scan(&maxSlot); err != nil {
		return res, fmt.Errorf("merge backup slot: %w", err)
	}
	res.BackupSlot = models.NextBackupSlot(maxSlot)
	if _, err := tx.Exec(ctx, `
		INSERT INTO link_backups (slot, payload, created_at) VALUES ($1, $2, NOW())
		ON CONFLICT (slot) DO UPDATE SET payload = EXCLUDED.payload, created_at = NOW()`,
		res.BackupSlot, string(payload)); err != nil {
		return res, fmt.Errorf("merge backup write: %w", err)
	}

	mainSet := make(map[string]bool, len(links))
	for _, l := range links {
		if c, err := urlutil.Canonical(l.CanonicalURL); err == nil {
			mainSet[c] = true
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT id, canonical_url, final_url, http_status, content_type, name, description,
			abilities, pricing_tier, tags, pricing_text, is_free, has_trial, is_paid,
			pending_enrichment
		FROM candidate_links WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return res, fmt.Errorf("merge list candidates: %w", err)
	}
	type pending struct {
		c   models.CandidateLink
		abs []string
		tgs []string
	}
	var pendings []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.c.ID, &p.c.CanonicalURL, &p.c.FinalURL, &p.c.HTTPStatus,
			&p.c.ContentType, &p.c.Name, &p.c.Description, &p.abs, &p.c.PricingTier,
			&p.tgs, &p.c.PricingText, &p.c.IsFree, &p.c.HasTrial, &p.c.IsPaid,
			&p.c.PendingEnrichment); err != nil {
			rows.Close()
			return res, fmt.Errorf("merge scan candidate: %w", err)
		}
		pendings = append(pendings, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	for _, p := range pendings {
		canonical, err := urlutil.Canonical(p.c.CanonicalURL)
		if err != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE candidate_links SET status = 'rejected', updated_at = NOW() WHERE id = $1`,
				p.c.ID); err != nil {
				return res, fmt.Errorf("merge reject: %w", err)
			}
			res.Rejected++
			continue
		}
		if mainSet[canonical] {
			if _, err := tx.Exec(ctx, `
				UPDATE candidate_links SET status = 'merged', merged_at = NOW(), updated_at = NOW()
				WHERE id = $1`, p.c.ID); err != nil {
				return res, fmt.Errorf("merge skip: %w", err)
			}
			res.Skipped++
			continue
		}

		tier := models.CanonicalPricingTier(string(p.c.PricingTier))
		if _, err := tx.Exec(ctx, `
			INSERT INTO main_links (id, canonical_url, name, description, abilities,
				pricing_tier, tags, pricing_text, is_free, has_trial, is_paid,
				pending_enrichment, source, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'candidate-merge', NOW(), NOW())
			ON CONFLICT (canonical_url) DO NOTHING`,
			uuid.NewString(), canonical, p.c.Name, p.c.Description,
			abilityStrings(models.CanonicalAbilities(p.abs)), string(tier),
			tagStrings(models.CanonicalTags(p.tgs)), p.c.PricingText,
			p.c.IsFree, p.c.HasTrial, p.c.IsPaid, p.c.PendingEnrichment); err != nil {
			return res, fmt.Errorf("merge insert main: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE candidate_links SET status = 'merged', merged_at = NOW(), updated_at = NOW()
			WHERE id = $1`, p.c.ID); err != nil {
			return res, fmt.Errorf("merge flip: %w", err)
		}
		mainSet[canonical] = true
		res.Merged++
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("merge commit: %w", err)
	}
	log.Info().Int("merged", res.Merged).Int("rejected", res.Rejected).
		Int("skipped", res.Skipped).Int("backup_slot", res.BackupSlot).
		Msg("candidate merge complete")
	return res, nil
}

func (s *PostgresStore) RefreshMainPricingTiers(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, pricing_tier, tags FROM main_links`)
	if err != nil {
		return 0, fmt.Errorf("refresh tiers: %w", err)
	}
	type row struct {
		id   string
		tier string
		tags []string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.tier, &r.tags); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, r := range all {
		tier := string(models.CanonicalPricingTier(r.tier))
		tags := tagStrings(models.CanonicalTags(r.tags))
		if tier == r.tier && equalStrings(tags, r.tags) {
			continue
		}
		if _, err := s.pool.Exec(ctx, `
			UPDATE main_links SET pricing_tier = $2, tags = $3, updated_at = NOW() WHERE id = $1`,
			r.id, tier, tags); err != nil {
			return updated, fmt.Errorf("refresh tier update: %w", err)
		}
		updated++
	}
	return updated, nil
}

// EnqueueStaleRefresh is a single statement; the NOT EXISTS guard keeps a URL
// from holding more than one open job.
func (s *PostgresStore) EnqueueStaleRefresh(ctx context.Context, staleHours, batchSize int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_jobs (canonical_url, requested_url, reason, status, attempts, next_run_at)
		SELECT m.canonical_url, m.canonical_url, 'scheduled-refresh', 'pending', 0, NOW()
		FROM main_links m
		WHERE (m.last_checked_at IS NULL OR m.last_checked_at < NOW() - make_interval(hours => $1))
		AND NOT EXISTS (
			SELECT 1 FROM scrape_jobs j
			WHERE j.canonical_url = m.canonical_url
			AND j.status IN ('pending', 'retry', 'processing')
		)
		ORDER BY m.last_checked_at ASC NULLS FIRST
		LIMIT $2`, staleHours, batchSize)
	if err != nil {
		return 0, fmt.Errorf("enqueue stale refresh: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Helpers ─────────────────────────────────────────────────

func abilityStrings(in []models.Ability) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, string(a))
	}
	return out
}

func tagStrings(in []models.Tag) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, string(t))
	}
	return out
}

func orEmptySlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func orEmptyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

const maxErrLen = 2000

func truncateErr(s string) string {
	if len(s) > maxErrLen {
		return s[:maxErrLen]
	}
	return s
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// qualify prefixes each column in a comma-separated list with an alias.
func qualify(alias, columns string) string {
	out := ""
	for i, c := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(columns string) []string {
	var out []string
	cur := ""
	for _, r := range columns {
		switch r {
		case ',':
			out = append(out, cur)
			cur = ""
		case ' ', '\n', '\t':
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
