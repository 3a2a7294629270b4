package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append stores events atomically. Fails entire batch on any duplicate.
func (s *EventStore) Append(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO ledger_events (
			sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}

		_, err = tx.Exec(ctx, query,
			int64(e.Sequence),
			e.Index,
			e.TxHash,
			e.Contract.String(),
			e.Topic,
			e.Key,
			data,
			int64(e.Timestamp),
		)
		if err != nil {
			return translateError("insert event", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive).
func (s *EventStore) GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	query := `
		SELECT sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		FROM ledger_events
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence ASC, event_index ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("get events by sequence range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByContract retrieves events emitted by contract, optionally filtered by topic.
func (s *EventStore) GetByContract(ctx context.Context, contract domain.Address, topic string) ([]*domain.Event, error) {
	query := `
		SELECT sequence, event_index, tx_hash, contract, topic, event_key, data, timestamp
		FROM ledger_events
		WHERE contract = $1 AND ($2 = '' OR topic = $2)
		ORDER BY sequence ASC, event_index ASC
	`

	rows, err := s.pool.Query(ctx, query, contract.String(), topic)
	if err != nil {
		return nil, fmt.Errorf("get events by contract: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans rows into events.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			sequence  int64
			timestamp int64
			contract  string
			data      []byte
		)
		if err := rows.Scan(
			&sequence,
			&e.Index,
			&e.TxHash,
			&contract,
			&e.Topic,
			&e.Key,
			&data,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		e.Sequence = uint64(sequence)
		e.Timestamp = uint64(timestamp)
		e.Contract = domain.Address(contract)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
