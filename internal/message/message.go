// Package message defines the central Message entity and its status state
// machine. Every other component communicates through Message records in the
// store; nothing here does I/O.
package message

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a message. Transitions only move forward,
// with Dismiss allowed from any non-terminal state.
type Status string

const (
	StatusReceived  Status = "received"  // ingested, not yet classified
	StatusProcessed Status = "processed" // veil + reply candidates written
	StatusQueued    Status = "queued"    // a reply was chosen, dispatch in progress
	StatusSent      Status = "sent"      // terminal
	StatusDismissed Status = "dismissed" // terminal
)

// statusRank orders the forward-only progression. Dismissed is handled
// separately since it is reachable from any non-terminal state.
var statusRank = map[Status]int{
	StatusReceived:  0,
	StatusProcessed: 1,
	StatusQueued:    2,
	StatusSent:      3,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDismissed
}

// CanAdvanceTo reports whether the transition s -> next is legal.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusDismissed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Bucket is the classification tag assigned by the brain.
type Bucket string

const (
	BucketUrgent        Bucket = "urgent"
	BucketWork          Bucket = "work"
	BucketSocial        Bucket = "social"
	BucketPromotional   Bucket = "promotional"
	BucketTransactional Bucket = "transactional"
	BucketUnknown       Bucket = "unknown"
)

// Buckets lists all known buckets, used for classifier validation.
var Buckets = []Bucket{
	BucketUrgent, BucketWork, BucketSocial,
	BucketPromotional, BucketTransactional, BucketUnknown,
}

// ParseBucket maps a free-form string onto a known bucket,
// falling back to BucketUnknown.
func ParseBucket(s string) Bucket {
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Buckets {
		if b == known {
			return known
		}
	}
	return BucketUnknown
}

// Message is the canonical record produced by the normalizer and advanced by
// the brain and dispatcher. ID is assigned by the store on first insert and
// immutable afterwards. OriginalContent is never mutated after ingestion.
type Message struct {
	ID               int64     `json:"id"`
	SourceID         string    `json:"source_id"`
	Sender           string    `json:"sender,omitempty"`
	OriginalContent  string    `json:"original_content"`
	VeiledContent    string    `json:"veiled_content,omitempty"`
	GeneratedReplies []string  `json:"generated_replies,omitempty"`
	Status           Status    `json:"status"`
	Bucket           Bucket    `json:"bucket"`
	ThreadKey        string    `json:"thread_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ThreadKey derives the deterministic grouping key for a sender on a source.
// Returns "" when the resolved sender is empty: such messages do not thread.
func ThreadKey(sourceID, sender string) string {
	s := strings.ToLower(strings.TrimSpace(sender))
	if s == "" {
		return ""
	}
	return sourceID + "|" + s
}

// Clone returns a deep copy so snapshots handed to observers cannot alias
// store-owned state.
func (m *Message) Clone() Message {
	cp := *m
	if m.GeneratedReplies != nil {
		cp.GeneratedReplies = make([]string, len(m.GeneratedReplies))
		copy(cp.GeneratedReplies, m.GeneratedReplies)
	}
	return cp
}
