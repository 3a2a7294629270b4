package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (sequence, event_index); duplicates
// are rejected by an explicit existence check before insert.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds events. Fails entire batch on duplicate (sequence, event_index).
func (s *EventStore) Append(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	if err := s.checkPositions(ctx, events); err != nil {
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		err = batch.Append(
			e.Sequence, uint32(e.Index), e.TxHash, e.Contract.String(),
			e.Topic, e.Key, string(data), e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive).
func (s *EventStore) GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	query := `
		SELECT sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		FROM ledger_events FINAL
		WHERE sequence >= ? AND sequence <= ?
		ORDER BY sequence ASC, event_index ASC
	`
	return s.query(ctx, query, from, to)
}

// GetByContract retrieves events emitted by contract, optionally filtered by topic.
func (s *EventStore) GetByContract(ctx context.Context, contract domain.Address, topic string) ([]*domain.Event, error) {
	query := `
		SELECT sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		FROM ledger_events FINAL
		WHERE contract = ? AND (? = '' OR topic = ?)
		ORDER BY sequence ASC, event_index ASC
	`
	return s.query(ctx, query, contract.String(), topic, topic)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e        domain.Event
			index    uint32
			contract string
			data     string
		)
		if err := rows.Scan(&e.Sequence, &index, &e.TxHash, &contract, &e.Topic, &e.Key, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		e.Index = int(index)
		e.Contract = domain.Address(contract)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

type position struct {
	sequence uint64
	index    int
}

// checkPositions rejects a batch that repeats a (sequence, index) pair or
// collides with a stored row. ReplacingMergeTree would otherwise merge the
// duplicate away silently.
func (s *EventStore) checkPositions(ctx context.Context, events []*domain.Event) error {
	batch := make(map[position]struct{}, len(events))
	lo, hi := events[0].Sequence, events[0].Sequence
	for _, e := range events {
		p := position{e.Sequence, e.Index}
		if _, dup := batch[p]; dup {
			return storage.ErrDuplicateKey
		}
		batch[p] = struct{}{}
		lo, hi = min(lo, e.Sequence), max(hi, e.Sequence)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT sequence, event_index FROM ledger_events
		WHERE sequence >= ? AND sequence <= ?
	`, lo, hi)
	if err != nil {
		return fmt.Errorf("query stored positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq uint64
			idx uint32
		)
		if err := rows.Scan(&seq, &idx); err != nil {
			return fmt.Errorf("scan stored position: %w", err)
		}
		if _, dup := batch[position{seq, int(idx)}]; dup {
			return storage.ErrDuplicateKey
		}
	}
	return rows.Err()
}
