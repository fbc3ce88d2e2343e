package bus

import (
	"context"
	"time"
)

// RawEvent is a platform event as captured by an integration source, before
// filtering and normalization. Sources build one of these and hand it to the
// bus; they never touch the store directly.
type RawEvent struct {
	EventID      string            `json:"event_id"` // assigned at capture, for logging/dedup
	SourceID     string            `json:"source_id"`
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	ExpandedBody string            `json:"expanded_body,omitempty"`
	Sender       string            `json:"sender,omitempty"`  // set when the source resolves it
	Ongoing      bool              `json:"ongoing,omitempty"` // persistent status indicator (media, downloads)
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`

	// ReplyHandle is the optional inline-reply affordance carried by the
	// event. It is cached by the ingest worker keyed on the stored message
	// id; it is never persisted and does not survive a restart.
	ReplyHandle ReplyHandle `json:"-"`
}

// ReplyHandle is an opaque capability that delivers a reply back through the
// exact channel that produced the original event (e.g. a captured chat ID and
// bot session). Absence is always a normal condition for callers.
type ReplyHandle interface {
	Reply(ctx context.Context, text string) error
}

// ReplyFunc adapts a closure to ReplyHandle.
type ReplyFunc func(ctx context.Context, text string) error

func (f ReplyFunc) Reply(ctx context.Context, text string) error { return f(ctx, text) }

// WakeEvent tells observers (UI clients) that a message changed. Delivery is
// best effort; correctness never depends on it.
type WakeEvent struct {
	MessageID int64  `json:"message_id"`
	Kind      string `json:"kind"` // "sent", "dismissed", "updated"
}
