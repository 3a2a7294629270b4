package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ambar-ledger/internal/domain"
)

// DefaultKafkaTopic receives every committed ledger event.
const DefaultKafkaTopic = "ambar_ledger_events"

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON messages keyed by contract address,
// so each contract's events stay ordered within a partition.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{w: w}
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, events []*domain.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d/%d: %w", ev.Sequence, ev.Index, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Contract),
			Value: body,
			Headers: []kafka.Header{
				{Key: "topic", Value: []byte(ev.Topic)},
			},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
