package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambar-ledger/internal/storage"
)

func TestKVStore_SetGetCommit(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewKVStore(pool)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "oracle", "owner", []byte("alice")))
	require.NoError(t, tx.Set(ctx, "oracle", "owner", []byte("bob")))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := tx.Get(ctx, "oracle", "owner")
	require.NoError(t, err)
	assert.Equal(t, "bob", string(got))
}

func TestKVStore_RollbackDiscardsWrites(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewKVStore(pool)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "token", "balance:alice", []byte{0, 5}))
	require.NoError(t, tx.Rollback(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.Get(ctx, "token", "balance:alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKVStore_Delete(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewKVStore(pool)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, "oracle", "updater:bob", []byte{1}))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "oracle", "updater:bob"))
	require.NoError(t, tx.Delete(ctx, "oracle", "updater:nobody"))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.Get(ctx, "oracle", "updater:bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKVStore_UseAfterCommit(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewKVStore(pool)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.Get(ctx, "p", "k")
	assert.ErrorIs(t, err, storage.ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
}
