package brain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/veilgate/internal/metrics"
)

// Dispatcher delivers a chosen reply and finalizes message state. Implemented
// by the dispatch package; declared here so the brain owns only the contract.
type Dispatcher interface {
	Dispatch(ctx context.Context, id int64, text string) error
}

// AutoResponder runs the per-message countdown that dispatches the top reply
// candidate when the user takes no action. At most one timer per message id
// is outstanding; starting a new one replaces the previous.
type AutoResponder struct {
	window time.Duration

	mu         sync.Mutex
	timers     map[int64]*time.Timer
	dispatcher Dispatcher
	stopped    bool
}

// NewAutoResponder creates the responder. Bind the dispatcher before any
// timer can fire usefully.
func NewAutoResponder(window time.Duration) *AutoResponder {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &AutoResponder{
		window: window,
		timers: make(map[int64]*time.Timer),
	}
}

// Bind attaches the dispatcher. Separate from the constructor because the
// dispatcher needs the responder for user-action cancellation.
func (a *AutoResponder) Bind(d Dispatcher) {
	a.mu.Lock()
	a.dispatcher = d
	a.mu.Unlock()
}

// Start arms the countdown for a message. An empty reply means there is
// nothing to auto-send, so no timer is armed. A previous timer for the same
// id is replaced.
func (a *AutoResponder) Start(id int64, reply string) {
	if reply == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if t, ok := a.timers[id]; ok {
		t.Stop()
	}
	a.timers[id] = time.AfterFunc(a.window, func() { a.fire(id, reply) })
}

// Cancel disarms the timer for a message. Safe to call for unknown ids and
// after expiry has already fired; both are no-ops.
func (a *AutoResponder) Cancel(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[id]; ok {
		t.Stop()
		delete(a.timers, id)
	}
}

// Stop cancels every outstanding timer. Part of session teardown.
func (a *AutoResponder) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}

func (a *AutoResponder) fire(id int64, reply string) {
	a.mu.Lock()
	delete(a.timers, id)
	d := a.dispatcher
	a.mu.Unlock()

	if d == nil {
		slog.Warn("auto-respond: no dispatcher bound", "id", id)
		return
	}

	// The dispatcher's CAS refuses the send when the user already acted or
	// the message is terminal, so a late fire is harmless.
	if err := d.Dispatch(context.Background(), id, reply); err != nil {
		slog.Warn("auto-respond: dispatch failed", "id", id, "error", err)
		return
	}
	metrics.AutoResponses.Inc()
	slog.Info("auto-respond: reply dispatched", "id", id)
}
