package events

import (
	"context"
	"sync"

	"ambar-ledger/internal/domain"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Contract domain.Address `json:"contract,omitempty"`
	Topic    string         `json:"topic,omitempty"`
	Key      string         `json:"key,omitempty"`
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev *domain.Event) bool {
	if f.Contract != "" && ev.Contract != f.Contract {
		return false
	}
	if f.Topic != "" && ev.Topic != f.Topic {
		return false
	}
	if f.Key != "" && ev.Key != f.Key {
		return false
	}
	return true
}

// Subscription is a live event feed. C is closed when the subscription is
// cancelled or when the subscriber falls too far behind.
type Subscription struct {
	C      <-chan *domain.Event
	ch     chan *domain.Event
	filter Filter
	broker *Broker
	once   sync.Once
}

// deliver queues matching events without blocking. It reports false when
// the buffer is full.
func (s *Subscription) deliver(events []*domain.Event) bool {
	for _, ev := range events {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			return false
		}
	}
	return true
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// Broker fans committed events out to in-process subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	// OnChange, if set, observes subscriber count changes.
	OnChange func(delta int)
}

// NewBroker creates a broker. buffer <= 0 selects DefaultSubscriberBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for events matching filter.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	ch := make(chan *domain.Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, broker: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	if b.OnChange != nil {
		b.OnChange(1)
	}
	return sub
}

// Publish implements Sink. Subscribers whose buffer is full are dropped
// rather than blocking the host.
func (b *Broker) Publish(_ context.Context, events []*domain.Event) error {
	var slow []*Subscription

	b.mu.Lock()
	for sub := range b.subs {
		if !sub.deliver(events) {
			slow = append(slow, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range slow {
		b.remove(sub)
	}
	return nil
}

// Len returns the number of active subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.remove(sub)
	}
}

func (b *Broker) remove(sub *Subscription) {
	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()

		if b.OnChange != nil {
			b.OnChange(-1)
		}
	})
}
