// Package policy holds the pure string predicates the chat pipeline gates on:
// prompt-injection detection, harmful-intent detection, instruction-override
// stripping, and output redaction. All patterns are compiled once at init and
// every entry point is a pure function, so alternative classifiers can be
// substituted in tests.
package policy

import (
	"regexp"
)

// ── Prompt injection ────────────────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)(reveal|show|print|dump|expose|repeat|display)\b.{0,40}\b(system|developer|hidden|internal)\s+(prompt|message|instructions?|polic(y|ies))`),
	regexp.MustCompile(`(?i)\b(api[\s_-]?keys?|tokens?|secrets?|passwords?|credentials?|private\s+keys?)\b`),
	regexp.MustCompile(`(?i)\b(OPENROUTER|NEON|JULEHA|DATABASE)_[A-Z0-9_]+\b`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(the\s+)?(system|root|admin|developer)`),
	regexp.MustCompile(`(?i)\bBEGIN\s+SYSTEM\b`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
}

// IsPromptInjection reports whether the text matches any injection pattern.
func IsPromptInjection(text string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ── Harmful intent ──────────────────────────────────────────

var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(malware|ransomware|trojan|keylogger|virus)\b`),
	regexp.MustCompile(`(?i)\b(exploit|sql\s*injection|\bsqli\b|\bxss\b|privilege\s+escalation|ddos)\b`),
	regexp.MustCompile(`(?i)\b(phishing|credential\s+(theft|stealing|harvest\w*))\b`),
	regexp.MustCompile(`(?i)\b(bomb|explosive|weapon)\b`),
	regexp.MustCompile(`(?i)\b(self[\s-]?harm|suicide)\b`),
}

// IsHarmfulIntent reports whether the text matches any harmful-intent pattern.
func IsHarmfulIntent(text string) bool {
	for _, re := range harmfulPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ── Override stripping ──────────────────────────────────────

// Instruction-override idioms are not rejected outright during sanitization;
// they are replaced with inert placeholders so the surrounding conversation
// survives while the override loses its force.
var (
	overrideIdiom = regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|prompts?|rules?|directions?|context)`)
	systemBlock   = regexp.MustCompile(`(?is)BEGIN\s+SYSTEM.*?END\s+SYSTEM`)
	roleOverride  = regexp.MustCompile(`(?i)you\s+are\s+now\s+(the\s+)?(system|root|admin|developer)\b`)
)

// StripOverrides neutralizes instruction-override idioms, BEGIN SYSTEM blocks,
// and role-override phrases with literal placeholders.
func StripOverrides(text string) string {
	text = systemBlock.ReplaceAllString(text, "[removed-system-block]")
	text = overrideIdiom.ReplaceAllString(text, "[removed-instruction-override]")
	text = roleOverride.ReplaceAllString(text, "[removed-role-override]")
	return text
}
