package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aicenghub/juleha-gateway/internal/chat"
	"github.com/aicenghub/juleha-gateway/internal/policy"
	"github.com/aicenghub/juleha-gateway/internal/ratelimit"
	"github.com/aicenghub/juleha-gateway/internal/toolsclient"
	"github.com/aicenghub/juleha-gateway/internal/upstream"
	"github.com/aicenghub/juleha-gateway/internal/urlutil"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

const (
	maxBodyBytes = 64 << 10
	maxUserURLs  = 6

	chatLimit   = 30
	urlLimit    = 10
	limitWindow = 10 * time.Minute
)

type chatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

type chatResponse struct {
	AssistantText string              `json:"assistantText"`
	RouteLabel    string              `json:"routeLabel"`
	VerifiedLinks []chat.VerifiedLink `json:"verifiedLinks"`
}

// Chat is the POST /juleha-chat pipeline: validation → classification →
// context build → model fan-out → output guard → candidate capture.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ip := clientIP(r)
	audit := chat.Audit{
		IPHash:      auditHash(h.Config.Policy.AuditSalt, ip),
		SessionHash: auditHash(h.Config.Policy.AuditSalt, sessionFingerprint(r)),
	}
	logger := log.With().Str("request_id", requestID).Logger()

	// Method gate.
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Origin gate.
	if !h.originAllowed(r) {
		respondError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	// Body-size gate.
	if r.ContentLength > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	// Chat rate limit.
	if res := h.Limiter.Consume(limitReq("chat:"+ip, chatLimit, 1)); !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSec))
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	// Conversation sanitization.
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	messages, err := chat.SanitizeConversation(req.Messages)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userText := chat.LatestUserText(messages)

	// Input classification.
	if policy.IsPromptInjection(userText) {
		logger.Info().Str("ip_hash", audit.IPHash).Msg("prompt injection refused")
		respondJSON(w, http.StatusOK, chatResponse{
			AssistantText: chat.RefusalInjection,
			RouteLabel:    chat.RouteLabelGuardrail,
			VerifiedLinks: []chat.VerifiedLink{},
		})
		return
	}
	if policy.IsHarmfulIntent(userText) {
		logger.Info().Str("ip_hash", audit.IPHash).Msg("harmful intent refused")
		respondJSON(w, http.StatusOK, chatResponse{
			AssistantText: chat.RefusalHarmful,
			RouteLabel:    chat.RouteLabelGuardrail,
			VerifiedLinks: []chat.VerifiedLink{},
		})
		return
	}

	// Upstream route configuration.
	if !h.Upstream.HasRoutes() {
		respondError(w, http.StatusInternalServerError, "server configuration error")
		return
	}

	ctx := r.Context()
	rawURLs, canonicalURLs := urlutil.Extract(userText, maxUserURLs)

	// Live-tools orchestration. Live tools are only "requested" when the
	// tools service is configured; otherwise user URLs fall through to the
	// legacy verification path.
	needsLive := h.Tools.Configured() && chat.NeedsLiveCheck(userText, len(rawURLs) > 0)
	toolsDown := false
	pendingSummary := ""
	toolsBlock := ""
	if needsLive {
		items, toolsErr := h.runTools(ctx, userText, rawURLs)
		switch {
		case len(items) == 0 && toolsErr != nil:
			toolsDown = true
			logger.Warn().Str("kind", toolsclient.KindOf(toolsErr)).Msg("tools down, capturing pending enrichment")
			if n := chat.CapturePendingURLs(ctx, h.Store, canonicalURLs, audit); n > 0 {
				pendingSummary = fmt.Sprintf("%d link(s) queued for enrichment once it is back.", n)
			}
		case len(items) > 0:
			for _, item := range items {
				chat.ApplyEnrichment(ctx, h.Store, item, audit)
			}
			toolsBlock = summarizeTools(items)
		}
	}

	// Legacy URL verification: only when live tools was not requested. The
	// verifier and its outbound gate are scoped to this request.
	verifier := chat.NewVerifier(h.Fetch)
	verifiedLinks := []chat.VerifiedLink{}
	urlCheckBlock := ""
	if !needsLive && h.Config.Policy.VerifyLinks && len(rawURLs) > 0 {
		if res := h.Limiter.Consume(limitReq("url:"+ip, urlLimit, len(rawURLs))); !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSec))
			respondError(w, http.StatusTooManyRequests, "url verification rate limit exceeded")
			return
		}
		verifiedLinks = verifier.VerifyAll(ctx, rawURLs, canonicalURLs)
		urlCheckBlock = chat.SummarizeChecks(verifiedLinks)
	}

	// Context assembly.
	catalogBlock := h.catalogBlock(ctx)
	contextMsg := chat.BuildContext(catalogBlock, urlCheckBlock, toolsBlock, pendingSummary)
	conversation := append([]models.ChatMessage{
		{Role: "system", Content: models.TextContent(chat.ServerSystemPrompt)},
		{Role: "system", Content: models.TextContent(contextMsg)},
	}, messages...)

	// Model fan-out with ordered failover.
	assistantText, routeLabel, err := h.Upstream.Complete(ctx, conversation)
	if err != nil {
		if errors.Is(err, upstream.ErrNoRoutes) {
			respondError(w, http.StatusInternalServerError, "server configuration error")
			return
		}
		logger.Error().Err(err).Msg("all upstream routes failed")
		respondError(w, http.StatusBadGateway, "assistant is unavailable right now")
		return
	}
	assistantText = policy.Redact(assistantText)

	// Output guard.
	if chat.IsBlockedOutput(assistantText) {
		logger.Warn().Msg("blocked prompt-leaking output")
		respondJSON(w, http.StatusOK, chatResponse{
			AssistantText: chat.RefusalLeak,
			RouteLabel:    chat.RouteLabelGuardrail,
			VerifiedLinks: []chat.VerifiedLink{},
		})
		return
	}

	// Candidate capture (legacy path only), after a successful model response.
	if !needsLive && h.Config.Policy.CaptureCandidates && h.Store != nil {
		h.captureFromAssistant(ctx, logger, verifier, assistantText, ip, audit)
	}

	// Tools-down banner.
	if toolsDown {
		assistantText = chat.PrependBanner(assistantText, pendingSummary)
	}

	respondJSON(w, http.StatusOK, chatResponse{
		AssistantText: assistantText,
		RouteLabel:    routeLabel,
		VerifiedLinks: verifiedLinks,
	})
}

// runTools calls enrich for at most one user URL, or search on the user text.
func (h *Handlers) runTools(ctx context.Context, userText string, rawURLs []string) ([]toolsclient.Item, error) {
	var data map[string]any
	var err error
	if len(rawURLs) > 0 {
		data, err = h.Tools.Enrich(ctx, rawURLs[0], "chat-live-check")
	} else {
		data, err = h.Tools.Search(ctx, userText)
	}
	if err != nil {
		return nil, err
	}
	return toolsclient.NormalizeItems(data, 10), nil
}

// captureFromAssistant verifies assistant-surfaced URLs and upserts the
// external-tagged, not-yet-cataloged subset as candidates. A URL-bucket deny
// here skips capture; the user already has their answer.
func (h *Handlers) captureFromAssistant(ctx context.Context, logger zerolog.Logger, verifier *chat.Verifier, assistantText, ip string, audit chat.Audit) {
	raws, canonicals := urlutil.Extract(assistantText, 0)
	if len(raws) == 0 {
		return
	}
	if res := h.Limiter.Consume(limitReq("url:"+ip, urlLimit, len(raws))); !res.Allowed {
		logger.Info().Int("urls", len(raws)).Msg("url bucket exhausted, skipping candidate capture")
		return
	}
	mainSet, err := h.Store.GetMainURLSet(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("main url set unavailable, skipping candidate capture")
		return
	}
	verified := verifier.VerifyAll(ctx, raws, canonicals)
	tagged, hasTags := chat.ExternalTaggedURLs(assistantText)
	captured := chat.CaptureCandidates(ctx, h.Store, verifier, verified, tagged, hasTags, mainSet, audit)
	if captured > 0 {
		logger.Info().Int("captured", captured).Msg("assistant links captured as candidates")
	}
}

func (h *Handlers) catalogBlock(ctx context.Context) string {
	if h.Store == nil {
		return chat.CatalogSnippet(nil, false)
	}
	links, err := h.Store.GetMainLinks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("catalog snippet unavailable")
		return chat.CatalogSnippet(nil, false)
	}
	return chat.CatalogSnippet(links, true)
}

// originAllowed applies the origin gate: a present Origin must match the
// allow-list, or https://{host} when no list is configured. Missing Origin is
// allowed.
func (h *Handlers) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if allowed := h.Config.Policy.AllowedOrigins; len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(origin, "https://"+r.Host)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// clientIP prefers the first x-forwarded-for hop, then x-real-ip.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		return real
	}
	return "0.0.0.0"
}

// sessionFingerprint prefers an explicit session header, then the cookie,
// then the user agent.
func sessionFingerprint(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get("X-Juleha-Session")); s != "" {
		return s
	}
	if c := r.Header.Get("Cookie"); c != "" {
		return c
	}
	return r.UserAgent()
}

// auditHash is SHA-256 over "{salt}:{value}"; the salt must stay constant for
// the lifetime of a deployment for hash stability.
func auditHash(salt, value string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

func limitReq(key string, limit, weight int) ratelimit.Request {
	return ratelimit.Request{Key: key, Limit: limit, Window: limitWindow, Weight: weight}
}

func summarizeTools(items []toolsclient.Item) string {
	var b strings.Builder
	b.WriteString("Live tool lookups:\n")
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.CanonicalURL
		}
		fmt.Fprintf(&b, "- %s (%s) — %s\n", name, item.PricingTier, item.CanonicalURL)
	}
	return strings.TrimRight(b.String(), "\n")
}
