package memory

import (
	"context"
	"sync"

	"ambar-ledger/internal/storage"
)

// KVStore is an in-memory implementation of storage.KVStore.
// A transaction holds the store lock from Begin until Commit or Rollback,
// so transactions are fully serialized.
type KVStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte // partition -> key -> value
}

// NewKVStore creates a new in-memory key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		data: make(map[string]map[string][]byte),
	}
}

// Begin starts a transaction. Blocks while another transaction is open.
func (s *KVStore) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &kvTx{
		store:  s,
		writes: make(map[entryKey]*[]byte),
	}, nil
}

// Close is a no-op.
func (s *KVStore) Close() error {
	return nil
}

// Len returns the number of committed keys in a partition. It blocks while
// a transaction is open, so never call it from a goroutine holding one.
func (s *KVStore) Len(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[partition])
}

var _ storage.KVStore = (*KVStore)(nil)

type entryKey struct {
	partition string
	key       string
}

// kvTx buffers writes until Commit. A nil pointer in writes marks a delete.
type kvTx struct {
	store  *KVStore
	writes map[entryKey]*[]byte
	done   bool
}

func (tx *kvTx) Get(_ context.Context, partition, key string) ([]byte, error) {
	if tx.done {
		return nil, storage.ErrTxDone
	}

	if w, ok := tx.writes[entryKey{partition, key}]; ok {
		if w == nil {
			return nil, storage.ErrNotFound
		}
		return cloneBytes(*w), nil
	}

	v, ok := tx.store.data[partition][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneBytes(v), nil
}

func (tx *kvTx) Set(_ context.Context, partition, key string, value []byte) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if partition == "" || key == "" {
		return storage.ErrInvalidInput
	}
	v := cloneBytes(value)
	tx.writes[entryKey{partition, key}] = &v
	return nil
}

func (tx *kvTx) Delete(_ context.Context, partition, key string) error {
	if tx.done {
		return storage.ErrTxDone
	}
	tx.writes[entryKey{partition, key}] = nil
	return nil
}

func (tx *kvTx) Commit(_ context.Context) error {
	if tx.done {
		return storage.ErrTxDone
	}
	for k, w := range tx.writes {
		if w == nil {
			delete(tx.store.data[k.partition], k.key)
			continue
		}
		part, ok := tx.store.data[k.partition]
		if !ok {
			part = make(map[string][]byte)
			tx.store.data[k.partition] = part
		}
		part[k.key] = *w
	}
	tx.finish()
	return nil
}

func (tx *kvTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *kvTx) finish() {
	tx.done = true
	tx.writes = nil
	tx.store.mu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
