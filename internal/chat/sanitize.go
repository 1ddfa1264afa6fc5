// Package chat implements the request-processing pieces of the Juleha chat
// pipeline: conversation sanitization, model-context assembly, legacy URL
// verification, live-tools orchestration, and candidate capture.
package chat

import (
	"errors"
	"strings"

	"github.com/aicenghub/juleha-gateway/internal/policy"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

const (
	// maxMessageChars truncates each message's content.
	maxMessageChars = 1800
	// maxMessages keeps only the newest messages before budgeting.
	maxMessages = 24
	// maxTotalChars bounds the running total over the kept window.
	maxTotalChars = 10000
	// maxUserMessages bounds user turns in the kept window.
	maxUserMessages = 12
)

// ErrInvalidPayload is returned when the payload is not a non-empty array of
// usable messages.
var ErrInvalidPayload = errors.New("invalid-payload")

// ErrNoUserMessage is returned when no message has role user.
var ErrNoUserMessage = errors.New("no-user-message")

// SanitizeConversation validates, neutralizes, and budgets a conversation.
// Roles outside {user, assistant} are dropped, content is flattened to text,
// override idioms are replaced with placeholders, and the newest messages are
// kept within the character and user-turn budgets. Original order is
// preserved.
func SanitizeConversation(msgs []models.ChatMessage) ([]models.ChatMessage, error) {
	if len(msgs) == 0 {
		return nil, ErrInvalidPayload
	}

	hasUser := false
	for _, m := range msgs {
		if strings.TrimSpace(m.Role) == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, ErrNoUserMessage
	}

	var clean []models.ChatMessage
	for _, m := range msgs {
		role := strings.TrimSpace(m.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		text := strings.TrimSpace(policy.StripOverrides(m.Content.Extract()))
		if text == "" {
			continue
		}
		if len(text) > maxMessageChars {
			text = text[:maxMessageChars]
		}
		clean = append(clean, models.ChatMessage{Role: role, Content: models.TextContent(text)})
	}
	if len(clean) == 0 {
		return nil, ErrInvalidPayload
	}
	if len(clean) > maxMessages {
		clean = clean[len(clean)-maxMessages:]
	}

	// Walk newest to oldest, then restore order.
	total := 0
	users := 0
	start := len(clean)
	for i := len(clean) - 1; i >= 0; i-- {
		text := clean[i].Content.Extract()
		if total+len(text) > maxTotalChars {
			break
		}
		if clean[i].Role == "user" {
			if users+1 > maxUserMessages {
				break
			}
			users++
		}
		total += len(text)
		start = i
	}
	kept := clean[start:]
	if len(kept) == 0 {
		return nil, ErrInvalidPayload
	}
	return kept, nil
}

// LatestUserText returns the newest user message's text, or "".
func LatestUserText(msgs []models.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content.Extract()
		}
	}
	return ""
}
