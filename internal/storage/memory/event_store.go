package memory

import (
	"context"
	"sort"
	"sync"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event
	keys   map[eventKey]struct{}
}

type eventKey struct {
	sequence uint64
	index    int
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		keys: make(map[eventKey]struct{}),
	}
}

// Append stores events. Fails entire batch on any duplicate (sequence, index).
func (s *EventStore) Append(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batch := make(map[eventKey]struct{}, len(events))
	for _, e := range events {
		if e == nil {
			return storage.ErrInvalidInput
		}
		k := eventKey{e.Sequence, e.Index}
		if _, exists := s.keys[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[k]; exists {
			return storage.ErrDuplicateKey
		}
		batch[k] = struct{}{}
	}

	for _, e := range events {
		s.keys[eventKey{e.Sequence, e.Index}] = struct{}{}
		s.events = append(s.events, cloneEvent(e))
	}

	sort.SliceStable(s.events, func(i, j int) bool {
		if s.events[i].Sequence != s.events[j].Sequence {
			return s.events[i].Sequence < s.events[j].Sequence
		}
		return s.events[i].Index < s.events[j].Index
	})
	return nil
}

// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive).
func (s *EventStore) GetBySequenceRange(_ context.Context, from, to uint64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.events {
		if e.Sequence >= from && e.Sequence <= to {
			result = append(result, cloneEvent(e))
		}
	}
	return result, nil
}

// GetByContract retrieves events emitted by contract, optionally filtered by topic.
func (s *EventStore) GetByContract(_ context.Context, contract domain.Address, topic string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.events {
		if e.Contract != contract {
			continue
		}
		if topic != "" && e.Topic != topic {
			continue
		}
		result = append(result, cloneEvent(e))
	}
	return result, nil
}

func cloneEvent(e *domain.Event) *domain.Event {
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

var _ storage.EventStore = (*EventStore)(nil)
