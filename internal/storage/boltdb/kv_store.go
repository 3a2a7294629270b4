// Package boltdb implements storage.KVStore on an embedded bbolt file.
// Every partition is a bucket; bbolt allows a single writer at a time,
// which gives the serialized transactions the host expects.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"ambar-ledger/internal/storage"
)

const (
	boltAllocSize = 8 * 1024 * 1024
	boltName      = "ledger.db"
)

// KVStore implements storage.KVStore using bbolt.
type KVStore struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger database inside dir.
func Open(dir string) (*KVStore, error) {
	if len(dir) == 0 {
		return nil, errors.New("bolt dir path can not be empty")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, boltName), 0660, &bolt.Options{Timeout: 2 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	db.AllocSize = boltAllocSize

	return &KVStore{db: db}, nil
}

// Begin starts a read-write bbolt transaction.
func (s *KVStore) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin bolt tx: %w", err)
	}
	return &kvTx{tx: tx}, nil
}

// Close closes the database file.
func (s *KVStore) Close() error {
	return s.db.Close()
}

var _ storage.KVStore = (*KVStore)(nil)

type kvTx struct {
	tx   *bolt.Tx
	done bool
}

func (t *kvTx) Get(_ context.Context, partition, key string) ([]byte, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	bkt := t.tx.Bucket([]byte(partition))
	if bkt == nil {
		return nil, storage.ErrNotFound
	}
	v := bkt.Get([]byte(key))
	if v == nil {
		return nil, storage.ErrNotFound
	}
	// bbolt memory is only valid for the life of the transaction
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *kvTx) Set(_ context.Context, partition, key string, value []byte) error {
	if t.done {
		return storage.ErrTxDone
	}
	if partition == "" || key == "" {
		return storage.ErrInvalidInput
	}
	bkt, err := t.tx.CreateBucketIfNotExists([]byte(partition))
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", partition, err)
	}
	if value == nil {
		value = []byte{}
	}
	if err := bkt.Put([]byte(key), value); err != nil {
		return fmt.Errorf("put %s/%s: %w", partition, key, err)
	}
	return nil
}

func (t *kvTx) Delete(_ context.Context, partition, key string) error {
	if t.done {
		return storage.ErrTxDone
	}
	bkt := t.tx.Bucket([]byte(partition))
	if bkt == nil {
		return nil
	}
	if err := bkt.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, key, err)
	}
	return nil
}

func (t *kvTx) Commit(_ context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit bolt tx: %w", err)
	}
	return nil
}

func (t *kvTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return fmt.Errorf("rollback bolt tx: %w", err)
	}
	return nil
}
