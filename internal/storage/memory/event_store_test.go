package memory

import (
	"context"
	"errors"
	"testing"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

func TestEventStore_AppendAndQuery(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.Event{
		{Sequence: 2, Index: 0, Contract: "oracle", Topic: domain.TopicPriceUpdate, Key: "XLM"},
		{Sequence: 1, Index: 1, Contract: "exchange", Topic: domain.TopicMintedTokens, Key: "alice"},
		{Sequence: 1, Index: 0, Contract: "token", Topic: domain.TopicMint, Key: "alice"},
	}
	if err := store.Append(ctx, events); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	all, err := store.GetBySequenceRange(ctx, 0, 10)
	if err != nil {
		t.Fatalf("GetBySequenceRange failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Contract != "token" || all[1].Contract != "exchange" || all[2].Contract != "oracle" {
		t.Errorf("events not ordered by (sequence, index): %v, %v, %v", all[0].Contract, all[1].Contract, all[2].Contract)
	}

	byContract, err := store.GetByContract(ctx, "oracle", domain.TopicPriceUpdate)
	if err != nil {
		t.Fatalf("GetByContract failed: %v", err)
	}
	if len(byContract) != 1 || byContract[0].Key != "XLM" {
		t.Errorf("unexpected contract events: %+v", byContract)
	}

	none, _ := store.GetByContract(ctx, "oracle", domain.TopicMint)
	if len(none) != 0 {
		t.Errorf("expected no events for topic, got %d", len(none))
	}
}

func TestEventStore_DuplicateRejectsBatch(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.Append(ctx, []*domain.Event{{Sequence: 1, Index: 0}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	err := store.Append(ctx, []*domain.Event{{Sequence: 2, Index: 0}, {Sequence: 1, Index: 0}})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Nothing from the failed batch was stored
	got, _ := store.GetBySequenceRange(ctx, 2, 2)
	if len(got) != 0 {
		t.Errorf("partial batch stored: %d events", len(got))
	}
}
