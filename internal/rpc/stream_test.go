package rpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/events"
	"ambar-ledger/internal/token"
)

func wsURL(n *testNode) string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http") + "/ws"
}

func next(t *testing.T, s *EventStream) *domain.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitSubscribers(t *testing.T, b *events.Broker, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Len() == want }, 5*time.Second, 5*time.Millisecond)
}

func TestStream_ReplaysThenFollows(t *testing.T) {
	n := newTestNode(t)
	n.mint(n.owner.Address(), 1)
	n.mint(n.owner.Address(), 2)

	s, err := Subscribe(n.ctx, wsURL(n), StreamRequest{FromSequence: 4}, nil)
	require.NoError(t, err)
	defer s.Close()

	ev := next(t, s)
	assert.Equal(t, uint64(4), ev.Sequence)
	assert.Equal(t, "2", ev.Data["amount"])

	waitSubscribers(t, n.broker, 1)
	n.mint(n.owner.Address(), 3)

	ev = next(t, s)
	assert.Equal(t, uint64(5), ev.Sequence)
	assert.Equal(t, "3", ev.Data["amount"])
}

func TestStream_FilterAndLiveOnly(t *testing.T) {
	n := newTestNode(t)
	n.mint(n.owner.Address(), 1)

	s, err := Subscribe(n.ctx, wsURL(n), StreamRequest{
		Filter: events.Filter{Contract: n.token, Topic: domain.TopicTransfer},
	}, nil)
	require.NoError(t, err)
	defer s.Close()
	waitSubscribers(t, n.broker, 1)

	n.mint(n.owner.Address(), 5)
	_, err = n.submit(token.MethodTransfer, token.TransferArgs{
		From:   n.owner.Address(),
		To:     n.token,
		Amount: domain.NewInt128(4),
	})
	require.NoError(t, err)

	ev := next(t, s)
	assert.Equal(t, domain.TopicTransfer, ev.Topic)
	assert.Equal(t, "4", ev.Data["amount"])
}

func TestStream_CloseReleasesSubscription(t *testing.T) {
	n := newTestNode(t)

	s, err := Subscribe(n.ctx, wsURL(n), StreamRequest{}, nil)
	require.NoError(t, err)
	waitSubscribers(t, n.broker, 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	waitSubscribers(t, n.broker, 0)

	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestStream_WithoutBroker(t *testing.T) {
	n := newTestNode(t)

	mux := http.NewServeMux()
	NewServer(n.host, Options{Logger: zerolog.Nop()}).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := Subscribe(n.ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", StreamRequest{}, nil)
	assert.ErrorContains(t, err, "websocket dial")
}

func TestPosition_Before(t *testing.T) {
	p := position{seq: 4, index: 1}
	assert.False(t, p.before(&domain.Event{Sequence: 3, Index: 9}))
	assert.False(t, p.before(&domain.Event{Sequence: 4, Index: 0}))
	assert.False(t, p.before(&domain.Event{Sequence: 4, Index: 1}))
	assert.True(t, p.before(&domain.Event{Sequence: 4, Index: 2}))
	assert.True(t, p.before(&domain.Event{Sequence: 5, Index: 0}))
	assert.True(t, position{}.before(&domain.Event{Sequence: 1}))
}
