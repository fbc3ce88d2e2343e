// Package memory provides the in-memory MessageStore used by tests and the
// "memory" database mode. Semantics match the durable backends, including
// CAS updates and the replay-then-live change stream.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// Store implements store.MessageStore over a map.
type Store struct {
	mu       sync.RWMutex
	messages map[int64]*message.Message
	nextID   int64
	notifier *store.Notifier
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		messages: make(map[int64]*message.Message),
		nextID:   1,
		notifier: store.NewNotifier(),
	}
}

func (s *Store) Insert(ctx context.Context, m *message.Message) (int64, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	cp := m.Clone()
	cp.ID = id
	s.messages[id] = &cp
	s.mu.Unlock()

	m.ID = id
	s.notifier.Broadcast()
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := m.Clone()
	return &cp, nil
}

func (s *Store) List(ctx context.Context) ([]message.Message, error) {
	s.mu.RLock()
	out := make([]message.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Update(ctx context.Context, id int64, expect []message.Status, mutate func(*message.Message)) (bool, error) {
	s.mu.Lock()
	m, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return false, store.ErrNotFound
	}
	if !store.StatusIn(m.Status, expect) {
		s.mu.Unlock()
		return false, nil
	}
	mutate(m)
	s.mu.Unlock()

	s.notifier.Broadcast()
	return true, nil
}

func (s *Store) ObserveAll(ctx context.Context) <-chan []message.Message {
	return store.Observe(ctx, s.notifier, s.List)
}

func (s *Store) ObserveByBucket(ctx context.Context, b message.Bucket) <-chan []message.Message {
	return store.Observe(ctx, s.notifier, func(ctx context.Context) ([]message.Message, error) {
		all, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		return store.FilterBucket(all, b), nil
	})
}

func (s *Store) Close() error { return nil }
