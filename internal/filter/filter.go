// Package filter gates the hot ingestion path. ShouldProcess is a pure
// predicate over the raw event text: no I/O, no allocation beyond the
// lowercased scratch string, O(text length).
package filter

import (
	"strings"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
)

// Policy holds the noise-suppression keyword lists. Lists are matched
// case-insensitively against the concatenated title/body/expanded body.
type Policy struct {
	// OTPKeywords combined with a 4-8 digit run mark one-time-code texts.
	OTPKeywords []string `json:"otp_keywords,omitempty"`
	// SystemKeywords are low-signal platform chatter (battery, charging),
	// suppressed only for events from SystemSourceID.
	SystemKeywords []string `json:"system_keywords,omitempty"`
	// SystemSourceID is the platform's own source identifier.
	SystemSourceID string `json:"system_source_id,omitempty"`
}

// DefaultPolicy returns the stock suppression lists.
func DefaultPolicy() Policy {
	return Policy{
		OTPKeywords:    []string{"code", "otp", "passcode", "verification", "2fa", "pin"},
		SystemKeywords: []string{"battery", "charging", "charged"},
		SystemSourceID: "android.system",
	}
}

// Filter decides whether a raw event is worth ingesting. Safe for concurrent
// use; the policy can be swapped at runtime (config hot reload).
type Filter struct {
	mu     sync.RWMutex
	policy Policy
}

// New creates a filter with the given policy. Empty lists fall back to the
// defaults.
func New(policy Policy) *Filter {
	def := DefaultPolicy()
	if len(policy.OTPKeywords) == 0 {
		policy.OTPKeywords = def.OTPKeywords
	}
	if len(policy.SystemKeywords) == 0 {
		policy.SystemKeywords = def.SystemKeywords
	}
	if policy.SystemSourceID == "" {
		policy.SystemSourceID = def.SystemSourceID
	}
	return &Filter{policy: policy}
}

// SetPolicy swaps the suppression policy (config hot reload).
func (f *Filter) SetPolicy(policy Policy) {
	f.mu.Lock()
	f.policy = New(policy).policy
	f.mu.Unlock()
}

// ShouldProcess reports whether the event passes the noise gate.
func (f *Filter) ShouldProcess(ev bus.RawEvent) bool {
	if ev.Ongoing {
		return false
	}

	f.mu.RLock()
	p := f.policy
	f.mu.RUnlock()

	text := strings.ToLower(ev.Title + " " + ev.Body + " " + ev.ExpandedBody)

	if containsAny(text, p.OTPKeywords) && hasDigitRun(text, 4, 8) {
		return false
	}

	if ev.SourceID == p.SystemSourceID && containsAny(text, p.SystemKeywords) {
		return false
	}

	return true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// hasDigitRun reports whether text contains a standalone run of min..max
// digits. A hand-rolled scan keeps the gate regexp-free and strictly linear.
func hasDigitRun(text string, min, max int) bool {
	run := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] >= '0' && text[i] <= '9' {
			run++
			continue
		}
		if run >= min && run <= max {
			return true
		}
		run = 0
	}
	return false
}
