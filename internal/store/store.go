// Package store defines the Message Store contract: a durable table of
// Message records observable as a change stream. The store is the sole
// mutable source of truth for message state; all status transitions go
// through the compare-and-set Update so single-flight and terminal
// idempotence hold under concurrent access.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/message"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// MessageStore is the narrow interface the pipeline consumes. Backends:
// memory (tests, dev), sqlite (standalone), postgres (managed).
type MessageStore interface {
	// Insert persists a new message and returns its store-assigned id.
	Insert(ctx context.Context, m *message.Message) (int64, error)

	// Get returns a copy of the message with the given id.
	Get(ctx context.Context, id int64) (*message.Message, error)

	// List returns a snapshot of all messages ordered by id.
	List(ctx context.Context) ([]message.Message, error)

	// Update applies mutate to the message iff its current status is one of
	// expect. Returns false (and no error) when the precondition fails —
	// callers use this to make transitions idempotent and single-flight.
	Update(ctx context.Context, id int64, expect []message.Status, mutate func(*message.Message)) (bool, error)

	// ObserveAll returns a replay-then-live stream of full snapshots: the
	// current table immediately, then a fresh snapshot after every write.
	// The channel closes when ctx is done.
	ObserveAll(ctx context.Context) <-chan []message.Message

	// ObserveByBucket is ObserveAll restricted to one classification bucket.
	ObserveByBucket(ctx context.Context, b message.Bucket) <-chan []message.Message

	Close() error
}

// Notifier fans out write notifications to observers. Store backends embed
// one and call Broadcast after every successful write. Signals are
// coalescible: observers re-read the table, so a dropped duplicate signal
// loses nothing.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan struct{})}
}

// Subscribe registers an observer. The returned cancel must be called when
// the observer stops listening.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Broadcast signals every observer that the table changed. Non-blocking: an
// observer with a pending signal is skipped.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Observe implements the replay-then-live stream shared by all backends:
// emit one snapshot from list immediately, then a fresh one after every
// broadcast, until ctx is done.
func Observe(ctx context.Context, n *Notifier, list func(context.Context) ([]message.Message, error)) <-chan []message.Message {
	out := make(chan []message.Message, 1)
	changes, cancel := n.Subscribe()

	go func() {
		defer close(out)
		defer cancel()

		emit := func() bool {
			snapshot, err := list(ctx)
			if err != nil {
				return ctx.Err() == nil // transient read errors: stay subscribed
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return false
			}
			return true
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}

// FilterBucket narrows a snapshot to one bucket.
func FilterBucket(snapshot []message.Message, b message.Bucket) []message.Message {
	out := make([]message.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if m.Bucket == b {
			out = append(out, m)
		}
	}
	return out
}

// StatusIn reports whether s is in the expect set. An empty set matches any
// status (unconditional update).
func StatusIn(s message.Status, expect []message.Status) bool {
	if len(expect) == 0 {
		return true
	}
	for _, e := range expect {
		if s == e {
			return true
		}
	}
	return false
}
