package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/events"
	"ambar-ledger/internal/observability"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/storage"
)

// MaxRequestBytes bounds a JSON-RPC request body.
const MaxRequestBytes = 1 << 20

// Ledger is the host surface served over RPC. *runtime.Host implements it.
type Ledger interface {
	Execute(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error)
	Query(ctx context.Context, contract domain.Address, method string, args any) (json.RawMessage, error)
	KindOf(ctx context.Context, addr domain.Address) (string, error)
	Sequence(ctx context.Context) (uint64, error)
}

// StreamConfig configures websocket keepalive on both ends of an event stream.
type StreamConfig struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// ReconnectDelay is initial delay before a client reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between client reconnect attempts.
	MaxReconnectDelay time.Duration
}

// DefaultStreamConfig returns default websocket configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Options configures a Server.
type Options struct {
	// Store serves getEvents and stream replay. Optional.
	Store storage.EventStore
	// Broker feeds live websocket subscribers. Optional.
	Broker  *events.Broker
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Stream  *StreamConfig
}

// Server serves JSON-RPC on /rpc and the event stream on /ws.
type Server struct {
	ledger   Ledger
	store    storage.EventStore
	broker   *events.Broker
	logger   zerolog.Logger
	metrics  *observability.Metrics
	stream   StreamConfig
	upgrader websocket.Upgrader
}

// NewServer creates an RPC server for ledger.
func NewServer(ledger Ledger, opts Options) *Server {
	cfg := DefaultStreamConfig()
	if opts.Stream != nil {
		cfg = *opts.Stream
	}
	return &Server{
		ledger:  ledger,
		store:   opts.Store,
		broker:  opts.Broker,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		stream:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the server handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleStream)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &Error{Code: CodeInvalidRequest, Message: err.Error()}})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: err.Error()}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "invalid JSON-RPC 2.0 request"}})
		return
	}

	result, err := s.dispatch(r.Context(), req)
	s.metrics.RecordRPC(req.Method, time.Since(start).Seconds(), err)

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = toError(err)
		}
		if rpcErr.Code == CodeInternalError {
			s.logger.Error().Err(err).Str("method", req.Method).Msg("RPC request failed")
		}
		resp.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &Error{Code: CodeInternalError, Message: fmt.Sprintf("encode result: %v", err)}
		} else {
			resp.Result = raw
		}
	}
	writeResponse(w, resp)
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	switch req.Method {
	case MethodSubmitTransaction:
		var tx runtime.Transaction
		if err := param(req, 0, &tx); err != nil {
			return nil, err
		}
		return s.ledger.Execute(ctx, &tx)

	case MethodQuery:
		var p QueryParams
		if err := param(req, 0, &p); err != nil {
			return nil, err
		}
		return s.ledger.Query(ctx, p.Contract, p.Method, p.Args)

	case MethodGetContractKind:
		var addr domain.Address
		if err := param(req, 0, &addr); err != nil {
			return nil, err
		}
		return s.ledger.KindOf(ctx, addr)

	case MethodGetSequence:
		return s.ledger.Sequence(ctx)

	case MethodGetEvents:
		var p EventsParams
		if len(req.Params) > 0 {
			if err := param(req, 0, &p); err != nil {
				return nil, err
			}
		}
		return s.getEvents(ctx, p)

	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func (s *Server) getEvents(ctx context.Context, p EventsParams) ([]*domain.Event, error) {
	if s.store == nil {
		return nil, errors.New("event store not configured")
	}
	if p.Contract != "" {
		return s.store.GetByContract(ctx, p.Contract, p.Topic)
	}
	if p.To == 0 {
		seq, err := s.ledger.Sequence(ctx)
		if err != nil {
			return nil, err
		}
		p.To = seq
	}
	if p.From > p.To {
		return []*domain.Event{}, nil
	}
	return s.store.GetBySequenceRange(ctx, p.From, p.To)
}

// param decodes the i-th positional parameter.
func param(req rpcRequest, i int, v any) error {
	if i >= len(req.Params) {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("missing parameter %d", i)}
	}
	if err := json.Unmarshal(req.Params[i], v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("parameter %d: %v", i, err)}
	}
	return nil
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
