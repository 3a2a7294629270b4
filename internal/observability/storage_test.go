package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
	"ambar-ledger/internal/storage/memory"
)

func TestInstrumentEventStore(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics("test", prometheus.NewRegistry())
	s := InstrumentEventStore(memory.NewEventStore(), "memory", m)

	ev := &domain.Event{Sequence: 1, Contract: "c", Topic: domain.TopicMint, Data: map[string]string{}}
	if err := s.Append(ctx, []*domain.Event{ev}); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := s.Append(ctx, []*domain.Event{ev})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if _, err := s.GetBySequenceRange(ctx, 1, 1); err != nil {
		t.Fatalf("query: %v", err)
	}

	if got := testutil.CollectAndCount(m.DBQueryDuration); got != 2 {
		t.Errorf("expected 2 observed operations, got %d", got)
	}
	if got := testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "append_events")); got != 1 {
		t.Errorf("expected 1 append error, got %v", got)
	}
}

func TestInstrumentKVStore(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics("test", prometheus.NewRegistry())
	s := InstrumentKVStore(memory.NewKVStore(), "memory", m)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Set(ctx, "p", "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, storage.ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}

	if got := testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "commit")); got != 1 {
		t.Errorf("expected 1 commit error, got %v", got)
	}
}

func TestInstrumentNilMetrics(t *testing.T) {
	kv := memory.NewKVStore()
	if InstrumentKVStore(kv, "memory", nil) != storage.KVStore(kv) {
		t.Errorf("expected unwrapped store")
	}
}
