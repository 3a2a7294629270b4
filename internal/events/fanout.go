// Package events delivers committed ledger events to the event store and to
// live consumers (websocket subscribers, Kafka).
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/observability"
	"ambar-ledger/internal/storage"
)

// Sink consumes a batch of committed events.
type Sink interface {
	Publish(ctx context.Context, events []*domain.Event) error
}

// NamedSink labels a secondary sink for logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// Fanout persists events to the primary store and then forwards them to
// every secondary sink. Only a store failure is returned, so the batch is
// offered again later. A batch the store already holds counts as stored.
// Secondary sinks are projections: their failures are logged and counted.
type Fanout struct {
	store   storage.EventStore
	sinks   []NamedSink
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewFanout creates a fan-out publisher. store may be nil when events are
// only streamed.
func NewFanout(store storage.EventStore, logger zerolog.Logger, metrics *observability.Metrics, sinks ...NamedSink) *Fanout {
	return &Fanout{
		store:   store,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish implements Sink.
func (f *Fanout) Publish(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	if f.store != nil {
		err := f.store.Append(ctx, events)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			f.logger.Debug().
				Uint64("sequence", events[0].Sequence).
				Msg("Events already stored, forwarding again")
		case err != nil:
			f.metrics.RecordSinkError("store")
			return fmt.Errorf("append events: %w", err)
		}
	}

	for _, s := range f.sinks {
		if err := s.Sink.Publish(ctx, events); err != nil {
			f.metrics.RecordSinkError(s.Name)
			f.logger.Warn().
				Err(err).
				Str("sink", s.Name).
				Uint64("sequence", events[0].Sequence).
				Msg("Event sink failed")
		}
	}
	return nil
}
