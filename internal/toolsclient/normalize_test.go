package toolsclient

import (
	"strings"
	"testing"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

func TestNormalizeItems_PoolsAndDedup(t *testing.T) {
	data := map[string]any{
		"items": []any{
			map[string]any{"url": "https://a.example", "name": "A"},
			map[string]any{"canonicalUrl": "https://A.example/", "name": "A again"},
		},
		"data": map[string]any{
			"results": []any{
				map[string]any{"fallbackUrl": "https://b.example", "name": "B"},
			},
		},
	}
	items := NormalizeItems(data, 10)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (deduped)", len(items))
	}
	if items[0].CanonicalURL != "https://a.example" || items[1].CanonicalURL != "https://b.example" {
		t.Errorf("canonical URLs = %q, %q", items[0].CanonicalURL, items[1].CanonicalURL)
	}
	// First occurrence wins the dedup.
	if items[0].Name != "A" {
		t.Errorf("name = %q, want A", items[0].Name)
	}
}

func TestNormalizeItems_RootFallback(t *testing.T) {
	data := map[string]any{"url": "https://solo.example", "name": "Solo"}
	items := NormalizeItems(data, 10)
	if len(items) != 1 || items[0].Name != "Solo" {
		t.Fatalf("items = %+v, want the root object", items)
	}
}

func TestNormalizeItems_DropsURLless(t *testing.T) {
	data := map[string]any{
		"items": []any{
			map[string]any{"name": "no url"},
			map[string]any{"url": "ftp://bad.example"},
		},
	}
	if items := NormalizeItems(data, 10); len(items) != 0 {
		t.Errorf("items = %+v, want none", items)
	}
}

func TestNormalizeItems_TruncationAndClamps(t *testing.T) {
	data := map[string]any{
		"items": []any{map[string]any{
			"url":         "https://t.example",
			"description": strings.Repeat("d", 2000),
			"pricingText": strings.Repeat("p", 2000),
			"confidence":  3.5,
			"sources":     manySources(30),
		}},
	}
	items := NormalizeItems(data, 10)
	if len(items) != 1 {
		t.Fatal("item dropped")
	}
	item := items[0]
	if len(item.Description) != 800 {
		t.Errorf("description length = %d, want 800", len(item.Description))
	}
	if len(item.PricingText) != 500 {
		t.Errorf("pricing length = %d, want 500", len(item.PricingText))
	}
	if item.Confidence == nil || *item.Confidence != 1 {
		t.Errorf("confidence = %v, want clamp to 1", item.Confidence)
	}
	if len(item.Sources) != 10 {
		t.Errorf("sources = %d, want bound of 10", len(item.Sources))
	}
}

func TestNormalizeItems_AbilityInferenceAndPricing(t *testing.T) {
	data := map[string]any{
		"items": []any{map[string]any{
			"url":         "https://img.example",
			"name":        "PhotoMagic",
			"description": "AI image and photo editing",
			"pricingText": "free tier, $12/mo pro",
		}},
	}
	items := NormalizeItems(data, 10)
	item := items[0]

	hasImage := false
	for _, a := range item.Abilities {
		if a == models.AbilityImage {
			hasImage = true
		}
	}
	if !hasImage {
		t.Errorf("abilities = %v, want inferred image", item.Abilities)
	}
	if !item.IsFree || !item.IsPaid {
		t.Errorf("flags = free:%v paid:%v, want both from keyword scan", item.IsFree, item.IsPaid)
	}
	if item.PricingTier != models.PricingPaid {
		t.Errorf("tier = %q, want paid (paid wins)", item.PricingTier)
	}
}

func TestNormalizeItems_ExplicitBooleansWin(t *testing.T) {
	data := map[string]any{
		"items": []any{map[string]any{
			"url":    "https://x.example",
			"isPaid": true,
		}},
	}
	items := NormalizeItems(data, 10)
	if !items[0].IsPaid {
		t.Error("explicit isPaid ignored")
	}
}

func manySources(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = "https://src.example/" + strings.Repeat("x", i+1)
	}
	return out
}
