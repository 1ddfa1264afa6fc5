package models

import (
	"encoding/json"
	"testing"
)

func TestCanonicalAbilities(t *testing.T) {
	got := CanonicalAbilities([]string{"Code", " text ", "code", "sorcery", "IMAGE"})
	want := []Ability{AbilityText, AbilityImage, AbilityCode}
	if len(got) != len(want) {
		t.Fatalf("CanonicalAbilities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CanonicalAbilities[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCanonicalPricingTier(t *testing.T) {
	cases := map[string]PricingTier{
		"free":       PricingFree,
		"PAID":       PricingPaid,
		"trial":      PricingTrial,
		"freemium":   PricingTrial,
		"":           PricingTrial,
		"enterprise": PricingTrial,
	}
	for raw, want := range cases {
		if got := CanonicalPricingTier(raw); got != want {
			t.Errorf("CanonicalPricingTier(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCanonicalTags(t *testing.T) {
	got := CanonicalTags([]string{"Watermarked", "sparkly", "watermarked"})
	if len(got) != 1 || got[0] != TagWatermarked {
		t.Errorf("CanonicalTags = %v, want [watermarked]", got)
	}
}

func TestNextBackupSlot(t *testing.T) {
	cases := map[int]int{30: 1, 29: 30, 0: 1, 1: 2, 15: 16, 60: 1}
	for max, want := range cases {
		if got := NextBackupSlot(max); got != want {
			t.Errorf("NextBackupSlot(%d) = %d, want %d", max, got, want)
		}
	}
}

func TestInferAbilities(t *testing.T) {
	got := InferAbilities("An AI photo editor that also writes code and automates workflows")
	has := make(map[Ability]bool)
	for _, a := range got {
		has[a] = true
	}
	for _, want := range []Ability{AbilityImage, AbilityCode, AbilityAutomation} {
		if !has[want] {
			t.Errorf("InferAbilities missing %q in %v", want, got)
		}
	}
	if len(InferAbilities("zzz qqq")) != 0 {
		t.Error("InferAbilities matched nonsense text")
	}
}

func TestPricingFlags(t *testing.T) {
	isFree, hasTrial, isPaid := PricingFlags("Free tier plus $9/mo premium subscription")
	if !isFree || !isPaid {
		t.Errorf("PricingFlags = (%v, %v, %v), want free and paid", isFree, hasTrial, isPaid)
	}
	_, hasTrial, _ = PricingFlags("14-day trial")
	if !hasTrial {
		t.Error("PricingFlags missed trial")
	}
}

func TestMessageContent_Shapes(t *testing.T) {
	cases := map[string]string{
		`"plain text"`: "plain text",
		`[{"type":"text","text":"a"},{"text":"b"}]`: "a\nb",
		`{"text":"structured"}`:                     "structured",
	}
	for raw, want := range cases {
		var c MessageContent
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", raw, err)
			continue
		}
		if got := c.Extract(); got != want {
			t.Errorf("Extract(%s) = %q, want %q", raw, got, want)
		}
	}
}

func TestMessageContent_RejectsOtherShapes(t *testing.T) {
	for _, raw := range []string{`42`, `true`, `null`} {
		var c MessageContent
		if err := json.Unmarshal([]byte(raw), &c); err == nil {
			t.Errorf("Unmarshal(%s) = nil error, want failure", raw)
		}
	}
}

func TestMessageContent_MarshalFlattens(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: MessageContent{Parts: []TextPart{{Text: "a"}, {Text: "b"}}}}
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(out) != `{"role":"user","content":"a\nb"}` {
		t.Errorf("Marshal = %s", out)
	}
}
