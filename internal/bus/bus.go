// Package bus carries raw events from integration sources to the ingest
// worker and broadcasts best-effort wake signals to observers. Publishing
// never blocks: the intake path runs on source callbacks that must return
// immediately.
package bus

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/metrics"
)

const (
	defaultRawBuffer  = 1024
	defaultWakeBuffer = 16
)

// Bus is the process-wide event conduit. Construct with New and pass by
// reference; Close tears it down.
type Bus struct {
	raw chan RawEvent

	mu       sync.Mutex
	wakeSubs map[int]chan WakeEvent
	nextSub  int
	closed   bool
}

// New creates a bus with the default buffer sizes.
func New() *Bus {
	return &Bus{
		raw:      make(chan RawEvent, defaultRawBuffer),
		wakeSubs: make(map[int]chan WakeEvent),
	}
}

// PublishRaw enqueues a raw event for ingestion. It never blocks: when the
// buffer is full the event is dropped and false is returned. Sources treat a
// drop as a lost notification, not an error.
func (b *Bus) PublishRaw(ev RawEvent) bool {
	select {
	case b.raw <- ev:
		return true
	default:
		metrics.EventsDropped.WithLabelValues(ev.SourceID).Inc()
		slog.Warn("bus: raw event dropped, buffer full", "source", ev.SourceID, "event_id", ev.EventID)
		return false
	}
}

// Raw returns the ingest worker's receive side.
func (b *Bus) Raw() <-chan RawEvent { return b.raw }

// SubscribeWake registers a wake listener. The returned channel has a small
// buffer; events are dropped when the listener lags. Call the cancel func to
// unsubscribe.
func (b *Bus) SubscribeWake() (<-chan WakeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan WakeEvent, defaultWakeBuffer)
	b.wakeSubs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.wakeSubs[id]; ok {
			delete(b.wakeSubs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Wake broadcasts a wake event to all subscribers, dropping for any that
// cannot keep up.
func (b *Bus) Wake(ev WakeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.wakeSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close unsubscribes all wake listeners. Raw publishing after Close still
// succeeds into the buffer but nothing will drain it.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.wakeSubs {
		delete(b.wakeSubs, id)
		close(ch)
	}
}
