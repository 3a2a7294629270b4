// Package rpc exposes a ledger host over JSON-RPC 2.0 and streams committed
// events over websocket.
package rpc

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/events"
	"ambar-ledger/internal/runtime"
)

// JSON-RPC method names.
const (
	MethodSubmitTransaction = "submitTransaction"
	MethodQuery             = "query"
	MethodGetContractKind   = "getContractKind"
	MethodGetSequence       = "getSequence"
	MethodGetEvents         = "getEvents"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error. Ledger failures carry the stable code of
// the underlying sentinel, so errors.Is works on the client side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"` // error name, e.g. "PriceUnavailable"
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("RPC error %d (%s): %s", e.Code, e.Data, e.Message)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Unwrap returns the ledger sentinel for the error code, if any.
func (e *Error) Unwrap() error {
	return runtime.ErrorByCode(e.Code)
}

// toError maps a host error onto a JSON-RPC error.
func toError(err error) *Error {
	if c, ok := runtime.Classify(err); ok {
		return &Error{Code: c.Code, Message: err.Error(), Data: c.Name}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// QueryParams are the parameters of query.
type QueryParams struct {
	Contract domain.Address  `json:"contract"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// EventsParams are the parameters of getEvents. A non-empty Contract selects
// that contract's events (optionally one Topic); otherwise the sequence range
// [From, To] is returned.
type EventsParams struct {
	Contract domain.Address `json:"contract,omitempty"`
	Topic    string         `json:"topic,omitempty"`
	From     uint64         `json:"from,omitempty"`
	To       uint64         `json:"to,omitempty"`
}

// StreamRequest is the first frame a websocket subscriber sends.
// FromSequence > 0 replays stored events from that sequence before live ones.
type StreamRequest struct {
	Filter       events.Filter `json:"filter"`
	FromSequence uint64        `json:"from_sequence,omitempty"`
}
