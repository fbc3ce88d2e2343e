package providers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

const veilPreviewLen = 80

// TemplateGenerator produces a deterministic veil and canned replies without
// any network dependency. Used when no LLM provider is configured and as the
// degraded-mode fallback in tests.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the offline generator.
func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

var cannedReplies = map[message.Bucket][]string{
	message.BucketUrgent:        {"On my way!", "Looking at this right now.", "Give me 5 minutes."},
	message.BucketWork:          {"Thanks, I'll take a look.", "Noted, will follow up shortly.", "Can we discuss this in our next sync?"},
	message.BucketSocial:        {"Sounds good!", "Count me in.", "Let me check and get back to you."},
	message.BucketTransactional: {"Thanks for the update."},
	message.BucketUnknown:       {"Thanks, I'll get back to you soon."},
}

func (g *TemplateGenerator) Generate(_ context.Context, sender, content string, bucket message.Bucket) (GenerateResult, error) {
	preview := strings.TrimSpace(content)
	if len(preview) > veilPreviewLen {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := veilPreviewLen
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "…"
	}

	who := sender
	if who == "" {
		who = "someone"
	}

	veil := fmt.Sprintf("%s message from %s: %s", bucketLabel(bucket), who, preview)

	replies := cannedReplies[bucket]
	if replies == nil {
		replies = cannedReplies[message.BucketUnknown]
	}
	// Promotional messages get no reply candidates: there is nobody worth
	// answering, and the auto-respond timer must stay a no-op for them.
	if bucket == message.BucketPromotional {
		replies = nil
	}

	out := make([]string, len(replies))
	copy(out, replies)
	return GenerateResult{Veil: veil, Replies: out}, nil
}

func bucketLabel(b message.Bucket) string {
	switch b {
	case message.BucketUrgent:
		return "Urgent"
	case message.BucketWork:
		return "Work"
	case message.BucketSocial:
		return "Social"
	case message.BucketPromotional:
		return "Promotional"
	case message.BucketTransactional:
		return "Transactional"
	default:
		return "New"
	}
}
