// Package integrations defines the contract for external communication
// channels and keeps the registry of configured sources. A source either
// pushes events into the bus on its own connection (telegram, discord, the
// SMS webhook) or is polled by the scheduler (slack, mailbox, code review).
package integrations

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// Source is the minimum every integration implements.
type Source interface {
	// SourceID is the stable identifier stamped on events, e.g. "telegram".
	SourceID() string

	// IsConnected reports whether the integration currently has a usable
	// session or credential set.
	IsConnected() bool

	// SyncOnce performs a single fetch of pending items and publishes them.
	// Push sources may implement it as a no-op backfill.
	SyncOnce(ctx context.Context) error
}

// PushSource is a source that maintains its own long-lived connection and
// publishes events as they arrive.
type PushSource interface {
	Source

	// Start opens the connection and begins publishing. Non-blocking; the
	// source owns its goroutines until Stop.
	Start(ctx context.Context) error

	Stop() error
}

// Sender can deliver an outbound reply for a message on its channel. Sources
// that support outbound delivery implement it alongside Source; the
// dispatcher falls back to it when no per-message reply handle survives.
type Sender interface {
	Send(ctx context.Context, m *message.Message, text string) error
}

// Registry holds the configured sources keyed by source id.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds or replaces a source under its id.
func (r *Registry) Register(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.SourceID()] = src
}

// Get returns the source for an id.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// All returns every registered source in stable id order.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.sources[id])
	}
	return out
}

// Connected returns the sources that currently report a usable connection.
func (r *Registry) Connected() []Source {
	all := r.All()
	out := make([]Source, 0, len(all))
	for _, src := range all {
		if src.IsConnected() {
			out = append(out, src)
		}
	}
	return out
}

// SenderFor returns the outbound sender for a source id, when the source
// supports delivery.
func (r *Registry) SenderFor(id string) (Sender, bool) {
	src, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := src.(Sender)
	return s, ok
}
