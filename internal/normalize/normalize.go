// Package normalize maps heterogeneous raw source payloads into canonical
// Message records. Unsupported or malformed events are discarded silently —
// the normalizer returns ok=false, never an error.
package normalize

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Extractor resolves (sender, content) from a raw event using
// source-specific field conventions.
type Extractor func(ev bus.RawEvent) (sender, content string)

// extractors keys source IDs to their field conventions. Sources not listed
// here go through the generic fallback.
var extractors = map[string]Extractor{
	"telegram":   extractChat,
	"discord":    extractChat,
	"slack":      extractChat,
	"sms":        extractDirect,
	"mailbox":    extractDirect,
	"codereview": extractDirect,
}

// extractChat handles group/aggregated chat threads where the body may carry
// a combined "Sender: text" line. The split happens on the first ": "
// occurrence; without a separator the thread title is the sender.
func extractChat(ev bus.RawEvent) (string, string) {
	if ev.Sender != "" {
		return ev.Sender, ev.Body
	}
	return SplitSenderLine(ev.Title, ev.Body)
}

// extractDirect handles point-to-point sources where the sender field (or
// the title as a fallback) already identifies the counterparty.
func extractDirect(ev bus.RawEvent) (string, string) {
	sender := ev.Sender
	if sender == "" {
		sender = ev.Title
	}
	return sender, ev.Body
}

// SplitSenderLine splits a combined "Sender: text" body line into its parts.
// When no separator is present the thread title becomes the sender and the
// full body the content.
func SplitSenderLine(title, body string) (sender, content string) {
	if idx := strings.Index(body, ": "); idx > 0 {
		return body[:idx], body[idx+2:]
	}
	return title, body
}

// Normalize converts a raw event into a Message ready for insertion.
// Returns ok=false when the event carries neither title nor body — a normal
// occurrence for malformed or unsupported payloads, not a failure. The reply
// handle travels on the RawEvent itself and is cached by the caller.
func Normalize(ev bus.RawEvent) (*message.Message, bool) {
	if ev.Title == "" && ev.Body == "" {
		return nil, false
	}

	extract, ok := extractors[ev.SourceID]
	if !ok {
		extract = extractGeneric
	}
	sender, content := extract(ev)

	created := ev.Timestamp
	if created.IsZero() {
		created = time.Now()
	}

	return &message.Message{
		SourceID:        ev.SourceID,
		Sender:          sender,
		OriginalContent: content,
		Status:          message.StatusReceived,
		Bucket:          message.BucketUnknown,
		ThreadKey:       message.ThreadKey(ev.SourceID, sender),
		CreatedAt:       created,
	}, true
}

// extractGeneric is the fallback mapper for unknown sources: sender from the
// explicit field or title, content from body or title.
func extractGeneric(ev bus.RawEvent) (string, string) {
	sender := ev.Sender
	if sender == "" {
		sender = ev.Title
	}
	content := ev.Body
	if content == "" {
		content = ev.Title
	}
	return sender, content
}
