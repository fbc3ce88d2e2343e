// Package dispatch finalizes messages: it sends a chosen reply through the
// cached reply handle or the source integration's outbound channel, and
// handles dismissal. State transitions go through the store's compare-and-set
// update, and delivery is single-flight per message id, so concurrent user
// action and auto-respond expiry cannot double-send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/bus"
	"github.com/nextlevelbuilder/veilgate/internal/handle"
	"github.com/nextlevelbuilder/veilgate/internal/integrations"
	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/metrics"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// ErrNoDeliveryChannel is returned when neither a reply handle nor an
// integration sender can deliver the reply. The message stays queued so a
// later attempt can succeed.
var ErrNoDeliveryChannel = errors.New("no delivery channel available")

// ErrNotReady is returned when dispatch is requested before the brain has
// processed the message.
var ErrNotReady = errors.New("message not yet processed")

// TimerCanceler disarms a pending auto-respond timer. Satisfied by
// brain.AutoResponder.
type TimerCanceler interface {
	Cancel(id int64)
}

// Dispatcher sends replies and dismisses messages.
type Dispatcher struct {
	store    store.MessageStore
	handles  *handle.Cache
	registry *integrations.Registry
	bus      *bus.Bus
	timers   TimerCanceler

	mu    sync.Mutex
	locks map[int64]*idLock
}

// New wires the dispatcher. timers may be nil when auto-respond is disabled.
func New(st store.MessageStore, handles *handle.Cache, reg *integrations.Registry, b *bus.Bus, timers TimerCanceler) *Dispatcher {
	return &Dispatcher{
		store:    st,
		handles:  handles,
		registry: reg,
		bus:      b,
		timers:   timers,
		locks:    make(map[int64]*idLock),
	}
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes dispatch and dismiss for one message id. A caller arriving
// while another is mid-delivery waits, re-reads the status, and sees the
// winner's terminal state instead of delivering again. The returned func
// releases the lock and drops the entry when nobody else is waiting.
func (d *Dispatcher) lock(id int64) func() {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &idLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}

// Dispatch sends text as the reply for message id. Any pending auto-respond
// timer is disarmed first, whether the call comes from the user or from the
// timer itself. Dispatching an already-sent or dismissed message is a
// successful no-op. On delivery failure the message stays queued.
func (d *Dispatcher) Dispatch(ctx context.Context, id int64, text string) error {
	if d.timers != nil {
		d.timers.Cancel(id)
	}

	unlock := d.lock(id)
	defer unlock()

	m, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status.Terminal() {
		slog.Debug("dispatch: message already final", "id", id, "status", m.Status)
		return nil
	}
	if m.Status == message.StatusReceived {
		return fmt.Errorf("dispatch message %d: %w", id, ErrNotReady)
	}

	// Claim the message. Losing the CAS means another process advanced it;
	// queued-to-queued is fine for a retry after a delivery failure.
	if m.Status == message.StatusProcessed {
		ok, err := d.store.Update(ctx, id, []message.Status{message.StatusProcessed}, func(cur *message.Message) {
			cur.Status = message.StatusQueued
		})
		if err != nil {
			return fmt.Errorf("queue message %d: %w", id, err)
		}
		if !ok {
			m, err = d.store.Get(ctx, id)
			if err != nil {
				return err
			}
			if m.Status.Terminal() {
				return nil
			}
		}
	}

	if err := d.deliver(ctx, m, text); err != nil {
		return err
	}

	if _, err := d.store.Update(ctx, id, []message.Status{message.StatusQueued}, func(cur *message.Message) {
		cur.Status = message.StatusSent
	}); err != nil {
		return fmt.Errorf("mark message %d sent: %w", id, err)
	}

	d.handles.Delete(id)
	metrics.DispatchTotal.WithLabelValues("sent").Inc()
	slog.Info("dispatch: reply sent", "id", id, "source", m.SourceID)
	d.bus.Wake(bus.WakeEvent{MessageID: id, Kind: "sent"})
	return nil
}

// deliver tries the cached reply handle first, then the source integration's
// outbound channel.
func (d *Dispatcher) deliver(ctx context.Context, m *message.Message, text string) error {
	if h, ok := d.handles.Get(m.ID); ok {
		if err := h.Reply(ctx, text); err != nil {
			metrics.DispatchTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("reply handle for message %d: %w", m.ID, err)
		}
		return nil
	}

	if sender, ok := d.registry.SenderFor(m.SourceID); ok {
		if err := sender.Send(ctx, m, text); err != nil {
			metrics.DispatchTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("send via %s for message %d: %w", m.SourceID, m.ID, err)
		}
		return nil
	}

	metrics.DispatchTotal.WithLabelValues("no_channel").Inc()
	return fmt.Errorf("message %d via %s: %w", m.ID, m.SourceID, ErrNoDeliveryChannel)
}

// Dismiss marks the message dismissed from any non-terminal state and
// disarms its timer. Dismissing an already-terminal message is a no-op.
func (d *Dispatcher) Dismiss(ctx context.Context, id int64) error {
	if d.timers != nil {
		d.timers.Cancel(id)
	}

	unlock := d.lock(id)
	defer unlock()

	ok, err := d.store.Update(ctx, id, []message.Status{
		message.StatusReceived, message.StatusProcessed, message.StatusQueued,
	}, func(cur *message.Message) {
		cur.Status = message.StatusDismissed
	})
	if err != nil {
		return err
	}
	if !ok {
		// Already sent or dismissed.
		slog.Debug("dispatch: dismiss on final message", "id", id)
		return nil
	}

	d.handles.Delete(id)
	metrics.DispatchTotal.WithLabelValues("dismissed").Inc()
	slog.Info("dispatch: message dismissed", "id", id)
	d.bus.Wake(bus.WakeEvent{MessageID: id, Kind: "dismissed"})
	return nil
}
