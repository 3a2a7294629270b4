package storage

import (
	"context"

	"ambar-ledger/internal/domain"
)

// KVStore is the durable key-value store backing contract state.
// Keys live in partitions; each deployed contract owns exactly one partition.
type KVStore interface {
	// Begin starts a read-write transaction. The caller must Commit or Rollback.
	// Implementations serialize or isolate transactions so that no transaction
	// observes another's uncommitted writes.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying resources.
	Close() error
}

// Tx is a single atomic unit of work against a KVStore.
type Tx interface {
	// Get returns the value stored under (partition, key). Returns ErrNotFound if absent.
	Get(ctx context.Context, partition, key string) ([]byte, error)

	// Set stores value under (partition, key), overwriting any previous value.
	Set(ctx context.Context, partition, key string, value []byte) error

	// Delete removes (partition, key). Deleting an absent key is not an error.
	Delete(ctx context.Context, partition, key string) error

	// Commit makes all writes visible. Returns ErrTxDone if already finished.
	Commit(ctx context.Context) error

	// Rollback discards all writes. Calling Rollback after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// EventStore persists committed contract events.
type EventStore interface {
	// Append stores events. Fails the entire batch if any (sequence, index) exists.
	Append(ctx context.Context, events []*domain.Event) error

	// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive),
	// ordered by sequence and index.
	GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error)

	// GetByContract retrieves events emitted by contract, ordered by sequence and index.
	// An empty topic matches every topic.
	GetByContract(ctx context.Context, contract domain.Address, topic string) ([]*domain.Event, error)
}
