package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ambar-ledger/internal/domain"
)

// EventStream is a websocket subscription to a node's /ws endpoint.
// After a dropped connection it reconnects with exponential backoff and
// resumes from the last delivered sequence; duplicates are suppressed.
type EventStream struct {
	endpoint string
	config   StreamConfig
	req      StreamRequest

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan *domain.Event
	done   chan struct{}
	wg     sync.WaitGroup

	// last is owned by readLoop.
	last       position
	reconnects atomic.Uint64
}

// Subscribe connects to endpoint (ws://host/ws) and starts streaming
// events matching req.
func Subscribe(ctx context.Context, endpoint string, req StreamRequest, config *StreamConfig) (*EventStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &EventStream{
		endpoint: endpoint,
		config:   cfg,
		req:      req,
		events:   make(chan *domain.Event, 1024),
		done:     make(chan struct{}),
	}
	if err := s.connect(ctx, req); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// Events returns the delivery channel. It is closed by Close.
func (s *EventStream) Events() <-chan *domain.Event {
	return s.events
}

// Reconnects returns how many times the stream has re-established its connection.
func (s *EventStream) Reconnects() uint64 {
	return s.reconnects.Load()
}

// connect dials the endpoint and sends the stream request.
func (s *EventStream) connect(ctx context.Context, req StreamRequest) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.config.WriteTimeout))
	})

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write stream request: %w", err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return fmt.Errorf("stream closed")
	}
	s.conn = conn
	return nil
}

// Close stops the stream and closes the delivery channel.
func (s *EventStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteTimeout))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// readLoop reads events and reconnects on connection errors.
func (s *EventStream) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if s.closed.Load() {
				return
			}
			conn.Close()
			if !s.reconnect() {
				return
			}
			continue
		}

		if !s.last.before(&ev) {
			continue
		}
		s.last = position{seq: ev.Sequence, index: ev.Index}

		select {
		case s.events <- &ev:
		case <-s.done:
			return
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// stream is closed. The request resumes at the last delivered sequence.
func (s *EventStream) reconnect() bool {
	delay := s.config.ReconnectDelay

	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		req := s.req
		if s.last.seq > 0 {
			req.FromSequence = s.last.seq
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout+10*time.Second)
		err := s.connect(ctx, req)
		cancel()
		if err == nil {
			s.reconnects.Add(1)
			return true
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}
