// Package providers hosts the pluggable classification and generation
// capabilities the brain consumes. Implementations: an OpenAI-compatible
// HTTP provider and offline keyword/template fallbacks.
package providers

import (
	"context"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// GenerateResult is the output of the generation capability: a safe summary
// (the veil) and 1..K reply candidates. An empty Replies slice is a valid
// result; the message stays actionable but nothing can auto-respond.
type GenerateResult struct {
	Veil    string
	Replies []string
}

// Generator produces the veil and reply candidates for a message.
// Implementations may block on network I/O; the brain bounds them with a
// context deadline.
type Generator interface {
	Generate(ctx context.Context, sender, content string, bucket message.Bucket) (GenerateResult, error)
}

// Classifier assigns a bucket to message content.
type Classifier interface {
	Classify(ctx context.Context, content string) (message.Bucket, error)
}
