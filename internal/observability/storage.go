package observability

import (
	"context"
	"time"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

// InstrumentEventStore records latency and errors of every event store call
// under the given database label. A nil m returns s unchanged.
func InstrumentEventStore(s storage.EventStore, database string, m *Metrics) storage.EventStore {
	if m == nil {
		return s
	}
	return &eventStore{next: s, database: database, metrics: m}
}

type eventStore struct {
	next     storage.EventStore
	database string
	metrics  *Metrics
}

func (s *eventStore) Append(ctx context.Context, events []*domain.Event) error {
	start := time.Now()
	err := s.next.Append(ctx, events)
	s.metrics.RecordDBQuery(s.database, "append_events", time.Since(start).Seconds(), err)
	return err
}

func (s *eventStore) GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	start := time.Now()
	evs, err := s.next.GetBySequenceRange(ctx, from, to)
	s.metrics.RecordDBQuery(s.database, "events_by_sequence", time.Since(start).Seconds(), err)
	return evs, err
}

func (s *eventStore) GetByContract(ctx context.Context, contract domain.Address, topic string) ([]*domain.Event, error) {
	start := time.Now()
	evs, err := s.next.GetByContract(ctx, contract, topic)
	s.metrics.RecordDBQuery(s.database, "events_by_contract", time.Since(start).Seconds(), err)
	return evs, err
}

// InstrumentKVStore records latency and errors of transaction begin and
// commit under the given database label. A nil m returns s unchanged.
func InstrumentKVStore(s storage.KVStore, database string, m *Metrics) storage.KVStore {
	if m == nil {
		return s
	}
	return &kvStore{next: s, database: database, metrics: m}
}

type kvStore struct {
	next     storage.KVStore
	database string
	metrics  *Metrics
}

func (s *kvStore) Begin(ctx context.Context) (storage.Tx, error) {
	start := time.Now()
	tx, err := s.next.Begin(ctx)
	s.metrics.RecordDBQuery(s.database, "begin", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return &kvTx{Tx: tx, store: s}, nil
}

func (s *kvStore) Close() error {
	return s.next.Close()
}

type kvTx struct {
	storage.Tx
	store *kvStore
}

func (tx *kvTx) Commit(ctx context.Context) error {
	start := time.Now()
	err := tx.Tx.Commit(ctx)
	tx.store.metrics.RecordDBQuery(tx.store.database, "commit", time.Since(start).Seconds(), err)
	return err
}
