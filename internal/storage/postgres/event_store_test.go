package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

func TestEventStore_AppendAndQuery(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewEventStore(pool)

	events := []*domain.Event{
		{
			Sequence: 3, Index: 0, TxHash: "tx3", Contract: "token",
			Topic: domain.TopicMint, Key: "alice",
			Data: map[string]string{"amount": "5"}, Timestamp: 1700000003,
		},
		{
			Sequence: 3, Index: 1, TxHash: "tx3", Contract: "exchange",
			Topic: domain.TopicMintedTokens, Key: "alice",
			Data: map[string]string{"amount_paid": "10", "tokens_minted": "5"}, Timestamp: 1700000003,
		},
	}
	require.NoError(t, store.Append(ctx, events))

	got, err := store.GetBySequenceRange(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TopicMint, got[0].Topic)
	assert.Equal(t, domain.TopicMintedTokens, got[1].Topic)
	assert.Equal(t, "10", got[1].Data["amount_paid"])

	all, err := store.GetByContract(ctx, "exchange", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint64(3), all[0].Sequence)
	assert.Equal(t, "tx3", all[0].TxHash)
}

func TestEventStore_AppendDuplicateRollsBackBatch(t *testing.T) {
	pool := setupTestDB(t)

	ctx := context.Background()
	store := NewEventStore(pool)

	first := &domain.Event{Sequence: 1, Index: 0, Contract: "oracle", Topic: domain.TopicPriceUpdate, Data: map[string]string{}}
	require.NoError(t, store.Append(ctx, []*domain.Event{first}))

	err := store.Append(ctx, []*domain.Event{
		{Sequence: 2, Index: 0, Contract: "oracle", Topic: domain.TopicPriceUpdate, Data: map[string]string{}},
		first,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetBySequenceRange(ctx, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
