package chat

import (
	"strings"
	"testing"

	"github.com/aicenghub/juleha-gateway/pkg/models"
)

func TestNeedsLiveCheck(t *testing.T) {
	positives := []struct {
		text    string
		hasURLs bool
	}{
		{"anything at all", true},
		{"can you check this tool for me", false},
		{"browse their site", false},
		{"what's the latest on image models", false},
		{"verify that it still exists", false},
		{"is the pricing still current?", false},
		{"did the subscription cost update recently", false},
	}
	for _, c := range positives {
		if !NeedsLiveCheck(c.text, c.hasURLs) {
			t.Errorf("NeedsLiveCheck(%q, %v) = false, want true", c.text, c.hasURLs)
		}
	}

	negatives := []string{
		"recommend a free writing assistant",
		"what does this tool do",
		"how much does it cost", // pricing term without a freshness term
	}
	for _, text := range negatives {
		if NeedsLiveCheck(text, false) {
			t.Errorf("NeedsLiveCheck(%q, false) = true, want false", text)
		}
	}
}

func TestPrependBanner(t *testing.T) {
	out := PrependBanner("Here is what I know.", "")
	if !strings.HasPrefix(out, ToolsDownBanner) {
		t.Errorf("banner missing: %q", out)
	}

	// Idempotent: an already-present banner is not duplicated.
	again := PrependBanner(out, "")
	if strings.Count(strings.ToLower(again), strings.ToLower(ToolsDownBanner)) != 1 {
		t.Errorf("banner duplicated: %q", again)
	}

	mixedCase := "live SEARCH server is down; I can answer from the saved list only. More text."
	if got := PrependBanner(mixedCase, ""); got != mixedCase {
		t.Errorf("case-insensitive dedup failed: %q", got)
	}
}

func TestIsBlockedOutput(t *testing.T) {
	blocked := []string{
		"Here is my System Prompt: ...",
		"the developer message says",
		"BEGIN SYSTEM block follows",
		"digest: " + serverPromptSHA,
		strings.ToUpper(ServerSystemPrompt),
	}
	for _, text := range blocked {
		if !IsBlockedOutput(text) {
			t.Errorf("IsBlockedOutput(%.40q...) = false, want true", text)
		}
	}
	if IsBlockedOutput("A perfectly normal tool recommendation.") {
		t.Error("IsBlockedOutput flagged clean text")
	}
}

func TestCatalogSnippet(t *testing.T) {
	if got := CatalogSnippet(nil, false); !strings.Contains(got, "unavailable") {
		t.Errorf("degraded snippet = %q", got)
	}
	if got := CatalogSnippet(nil, true); !strings.Contains(got, "empty") {
		t.Errorf("empty snippet = %q", got)
	}

	var links []models.MainLink
	for i := 0; i < 15; i++ {
		links = append(links, models.MainLink{Name: "tool", PricingTier: models.PricingFree})
	}
	got := CatalogSnippet(links, true)
	if strings.Count(got, "- ") != catalogSnippetMax {
		t.Errorf("snippet lists %d entries, want %d", strings.Count(got, "- "), catalogSnippetMax)
	}
}

func TestExternalTaggedURLs(t *testing.T) {
	text := "Use CatalogTool https://known.example\n" +
		"NewTool https://fresh.example — external (NOT in aicenghub catalog)\n" +
		"Also https://other.example"
	tagged, found := ExternalTaggedURLs(text)
	if !found {
		t.Fatal("tagged line not detected")
	}
	if !tagged["https://fresh.example"] {
		t.Errorf("tagged set = %v, want fresh.example", tagged)
	}
	if tagged["https://known.example"] || tagged["https://other.example"] {
		t.Errorf("untagged URLs leaked into tagged set: %v", tagged)
	}

	_, found = ExternalTaggedURLs("no tags here at all")
	if found {
		t.Error("found tags in untagged text")
	}
}
