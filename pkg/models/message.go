package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// ── Chat messages ────────────────────────────────────────────

// ChatMessage is one conversation turn. Content accepts the three wire shapes
// clients send: a plain string, an array of text parts, or a {text} object.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the tagged content variant. Exactly one field is set.
type MessageContent struct {
	Text       string
	Parts      []TextPart
	Structured *StructuredText
}

// TextPart is one element of an array-form content payload.
type TextPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// StructuredText is the {text} object form.
type StructuredText struct {
	Text string `json:"text"`
}

var errBadContent = errors.New("content must be a string, an array of text parts, or a {text} object")

// UnmarshalJSON accepts the three supported shapes and rejects everything else.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return errBadContent
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case '[':
		var parts []TextPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return errBadContent
		}
		*c = MessageContent{Parts: parts}
		return nil
	case '{':
		var st StructuredText
		if err := json.Unmarshal(data, &st); err != nil {
			return errBadContent
		}
		*c = MessageContent{Structured: &st}
		return nil
	}
	return errBadContent
}

// MarshalJSON emits the string form; sanitized conversations are always
// flattened to text before they reach the upstream model.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Extract())
}

// Extract flattens any content variant to plain text. Multi-part content is
// joined with newlines.
func (c MessageContent) Extract() string {
	switch {
	case c.Parts != nil:
		var lines []string
		for _, p := range c.Parts {
			if p.Text != "" {
				lines = append(lines, p.Text)
			}
		}
		return strings.Join(lines, "\n")
	case c.Structured != nil:
		return c.Structured.Text
	default:
		return c.Text
	}
}

// TextContent builds a plain-string content value.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}
