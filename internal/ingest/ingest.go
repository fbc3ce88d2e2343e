// Package ingest drains the raw event queue: filter, normalize, persist,
// cache the reply handle. It is the only writer of new Message rows. The
// worker runs off the hot path — sources enqueue and return immediately.
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/filter"
	"github.com/nextlevelbuilder/veilgate/internal/handle"
	"github.com/nextlevelbuilder/veilgate/internal/metrics"
	"github.com/nextlevelbuilder/veilgate/internal/normalize"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// Ingestor consumes bus.Raw() until its context is done.
type Ingestor struct {
	bus     *bus.Bus
	filter  *filter.Filter
	store   store.MessageStore
	handles *handle.Cache
}

// New wires the ingest worker. Run it in its own goroutine.
func New(b *bus.Bus, f *filter.Filter, st store.MessageStore, handles *handle.Cache) *Ingestor {
	return &Ingestor{bus: b, filter: f, store: st, handles: handles}
}

// Run processes events until ctx is canceled.
func (i *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-i.bus.Raw():
			i.handleEvent(ctx, ev)
		}
	}
}

func (i *Ingestor) handleEvent(ctx context.Context, ev bus.RawEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if !i.filter.ShouldProcess(ev) {
		metrics.EventsSuppressed.WithLabelValues(ev.SourceID).Inc()
		return
	}

	m, ok := normalize.Normalize(ev)
	if !ok {
		// Malformed events are a normal occurrence, not a failure.
		metrics.EventsDiscarded.WithLabelValues(ev.SourceID).Inc()
		slog.Debug("ingest: event discarded", "source", ev.SourceID, "event_id", ev.EventID)
		return
	}

	id, err := i.store.Insert(ctx, m)
	if err != nil {
		slog.Error("ingest: insert failed", "source", ev.SourceID, "event_id", ev.EventID, "error", err)
		return
	}

	if ev.ReplyHandle != nil {
		i.handles.Save(id, ev.ReplyHandle)
	}

	metrics.EventsIngested.WithLabelValues(ev.SourceID).Inc()
	slog.Info("ingest: message stored", "id", id, "source", ev.SourceID, "sender", m.Sender)
}
