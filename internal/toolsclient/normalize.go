package toolsclient

import (
	"strings"

	"github.com/aicenghub/juleha-gateway/internal/urlutil"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

// Item is one normalized tool record from a tools-service response.
type Item struct {
	CanonicalURL string
	FinalURL     string
	Name         string
	Description  string
	PricingText  string
	Abilities    []models.Ability
	PricingTier  models.PricingTier
	Tags         []models.Tag
	IsFree       bool
	HasTrial     bool
	IsPaid       bool
	FaviconURL   string
	ThumbnailURL string
	ContentType  string
	Confidence   *float64
	Sources      []string
	Raw          map[string]any
}

const (
	maxDescriptionLen = 800
	maxPricingLen     = 500
)

// itemPools is the fixed list of places a response may carry its item list.
var itemPools = []string{"items", "results", "tools", "matches", "data.items", "data.results", "item", "result"}

// NormalizeItems walks the response's item pools and produces canonical tool
// records, deduplicated by canonical URL. Items without a usable canonical URL
// are dropped. maxSources bounds the per-item source list.
func NormalizeItems(data map[string]any, maxSources int) []Item {
	if maxSources <= 0 {
		maxSources = 10
	}
	var out []Item
	seen := make(map[string]bool)
	for _, raw := range collectCandidates(data) {
		item, ok := normalizeOne(raw, maxSources)
		if !ok || seen[item.CanonicalURL] {
			continue
		}
		seen[item.CanonicalURL] = true
		out = append(out, item)
	}
	return out
}

// collectCandidates gathers candidate objects from every pool, falling back
// to the root object itself.
func collectCandidates(data map[string]any) []map[string]any {
	if data == nil {
		return nil
	}
	var out []map[string]any
	for _, pool := range itemPools {
		v := lookupPath(data, pool)
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				if m, ok := e.(map[string]any); ok {
					out = append(out, m)
				}
			}
		case map[string]any:
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = append(out, data)
	}
	return out
}

func lookupPath(data map[string]any, path string) any {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func normalizeOne(raw map[string]any, maxSources int) (Item, bool) {
	var canonical string
	for _, key := range []string{"canonicalUrl", "url", "finalUrl", "fallbackUrl"} {
		if s := str(raw[key]); s != "" {
			if c, err := urlutil.Canonical(s); err == nil {
				canonical = c
				break
			}
		}
	}
	if canonical == "" {
		return Item{}, false
	}

	item := Item{
		CanonicalURL: canonical,
		FinalURL:     str(raw["finalUrl"]),
		Name:         strings.TrimSpace(str(raw["name"])),
		Description:  truncate(strings.TrimSpace(str(raw["description"])), maxDescriptionLen),
		PricingText:  truncate(strings.TrimSpace(str(raw["pricingText"])), maxPricingLen),
		FaviconURL:   str(raw["faviconUrl"]),
		ThumbnailURL: str(raw["thumbnailUrl"]),
		ContentType:  str(raw["contentType"]),
		Raw:          raw,
	}

	item.Abilities = models.CanonicalAbilities(strs(raw["abilities"]))
	if len(item.Abilities) == 0 {
		item.Abilities = models.InferAbilities(item.Name + " " + item.Description + " " + item.PricingText)
	}
	item.Tags = models.CanonicalTags(strs(raw["tags"]))

	scanFree, scanTrial, scanPaid := models.PricingFlags(item.PricingText)
	item.IsFree = boolOr(raw["isFree"], scanFree)
	item.HasTrial = boolOr(raw["hasTrial"], scanTrial)
	item.IsPaid = boolOr(raw["isPaid"], scanPaid)
	if tier := str(raw["pricingTier"]); tier != "" {
		item.PricingTier = models.CanonicalPricingTier(tier)
	} else {
		item.PricingTier = models.TierFromFlags(item.IsFree, item.HasTrial, item.IsPaid)
	}

	if f, ok := num(raw["confidence"]); ok {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		item.Confidence = &f
	}
	for _, s := range strs(raw["sources"]) {
		if len(item.Sources) >= maxSources {
			break
		}
		if s != "" {
			item.Sources = append(item.Sources, s)
		}
	}
	return item, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// boolOr is true when the explicit boolean or the keyword-scan value is true.
func boolOr(v any, scanned bool) bool {
	if b, ok := v.(bool); ok {
		return b || scanned
	}
	return scanned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
