package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ambar-ledger/internal/storage"
)

// KVStore implements storage.KVStore using PostgreSQL.
// Transactions run at SERIALIZABLE isolation against the ledger_state table.
type KVStore struct {
	pool *Pool
}

// NewKVStore creates a new KVStore.
func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KVStore = (*KVStore)(nil)

// Begin starts a serializable transaction.
func (s *KVStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &kvTx{tx: tx}, nil
}

// Close closes the underlying pool.
func (s *KVStore) Close() error {
	s.pool.Close()
	return nil
}

type kvTx struct {
	tx   pgx.Tx
	done bool
}

func (t *kvTx) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}

	query := `
		SELECT value
		FROM ledger_state
		WHERE partition = $1 AND key = $2
	`

	var value []byte
	err := t.tx.QueryRow(ctx, query, partition, key).Scan(&value)
	if err != nil {
		return nil, translateError(fmt.Sprintf("get ledger state %s/%s", partition, key), err)
	}
	return value, nil
}

func (t *kvTx) Set(ctx context.Context, partition, key string, value []byte) error {
	if t.done {
		return storage.ErrTxDone
	}
	if partition == "" || key == "" {
		return storage.ErrInvalidInput
	}
	if value == nil {
		value = []byte{}
	}

	query := `
		INSERT INTO ledger_state (partition, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := t.tx.Exec(ctx, query, partition, key, value); err != nil {
		return fmt.Errorf("set ledger state %s/%s: %w", partition, key, err)
	}
	return nil
}

func (t *kvTx) Delete(ctx context.Context, partition, key string) error {
	if t.done {
		return storage.ErrTxDone
	}

	query := `DELETE FROM ledger_state WHERE partition = $1 AND key = $2`

	if _, err := t.tx.Exec(ctx, query, partition, key); err != nil {
		return fmt.Errorf("delete ledger state %s/%s: %w", partition, key, err)
	}
	return nil
}

func (t *kvTx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *kvTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}
