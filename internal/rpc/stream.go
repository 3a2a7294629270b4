package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ambar-ledger/internal/domain"
)

// position identifies an event in the committed log.
type position struct {
	seq   uint64
	index int
}

func (p position) before(ev *domain.Event) bool {
	if ev.Sequence != p.seq {
		return p.seq < ev.Sequence
	}
	return p.index < ev.Index
}

// handleStream upgrades to websocket, reads a StreamRequest, replays stored
// events from FromSequence, then forwards live events from the broker.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "event stream not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.stream.ReadTimeout))
	var req StreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug().Err(err).Msg("read stream request")
		return
	}

	// Subscribe before replay so no event committed in between is lost.
	sub := s.broker.Subscribe(req.Filter)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readPump(ctx, cancel, conn)

	var last position
	if req.FromSequence > 0 {
		var ok bool
		if last, ok = s.replay(ctx, conn, req); !ok {
			return
		}
	}

	ping := time.NewTicker(s.stream.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				s.closeStream(conn, websocket.ClosePolicyViolation, "subscriber too slow")
				return
			}
			if !last.before(ev) {
				continue
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.logger.Debug().Err(err).Msg("write event")
				return
			}
			last = position{seq: ev.Sequence, index: ev.Index}
		case <-ping.C:
			deadline := time.Now().Add(s.stream.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// replay sends stored events in [FromSequence, current] that match the filter.
func (s *Server) replay(ctx context.Context, conn *websocket.Conn, req StreamRequest) (position, bool) {
	var last position
	if s.store == nil {
		return last, true
	}
	seq, err := s.ledger.Sequence(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read sequence for replay")
		s.closeStream(conn, websocket.CloseInternalServerErr, "replay failed")
		return last, false
	}
	if req.FromSequence > seq {
		return last, true
	}

	evs, err := s.store.GetBySequenceRange(ctx, req.FromSequence, seq)
	if err != nil {
		s.logger.Error().Err(err).Msg("load events for replay")
		s.closeStream(conn, websocket.CloseInternalServerErr, "replay failed")
		return last, false
	}
	for _, ev := range evs {
		if !req.Filter.Match(ev) {
			continue
		}
		if err := s.writeEvent(conn, ev); err != nil {
			return last, false
		}
		last = position{seq: ev.Sequence, index: ev.Index}
	}
	return last, true
}

// readPump consumes control frames and cancels the stream when the peer goes away.
func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(s.stream.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.stream.ReadTimeout))
	})
	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev *domain.Event) error {
	conn.SetWriteDeadline(time.Now().Add(s.stream.WriteTimeout))
	return conn.WriteJSON(ev)
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.stream.WriteTimeout))
}
