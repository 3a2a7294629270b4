package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// retryPolicy bounds how transport failures are retried.
type retryPolicy struct {
	attempts int // retries after the first try
	base     time.Duration
	ceiling  time.Duration
}

// backoff returns the wait before retry n (1-based), doubling from base
// up to ceiling.
func (p retryPolicy) backoff(n int) time.Duration {
	d := p.base
	for i := 1; i < n && d < p.ceiling; i++ {
		d *= 2
	}
	return min(d, p.ceiling)
}

// Client is a JSON-RPC 2.0 client for a ledger node.
//
// Transport failures are retried with exponential backoff. Ledger errors are
// returned as *Error and never retried. A retried submitTransaction whose
// first attempt did commit fails with runtime.ErrDuplicateTransaction.
type Client struct {
	endpoint string
	http     *http.Client
	retry    retryPolicy
	nextID   atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets how many times a transport failure is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.retry.attempts = n }
}

// WithRetryDelay sets the first backoff step.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retry.base = d }
}

// WithMaxDelay caps the backoff.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retry.ceiling = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the node's /rpc endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    retryPolicy{attempts: 3, base: time.Second, ceiling: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transportError marks a failure worth retrying. after, when set, is the
// server's Retry-After hint.
type transportError struct {
	err   error
	after time.Duration
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	raw := make([]json.RawMessage, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s param %d: %w", method, i, err)
		}
		raw[i] = b
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	var lastErr *transportError
	for try := 0; try <= c.retry.attempts; try++ {
		if lastErr != nil {
			wait := c.retry.backoff(try)
			if lastErr.after > wait {
				wait = min(lastErr.after, c.retry.ceiling)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.roundTrip(ctx, body)
		if err != nil {
			var te *transportError
			if errors.As(err, &te) {
				lastErr = te
				continue
			}
			return err
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", method, c.retry.attempts+1, lastErr)
}

// roundTrip posts one request. Failures that may succeed on another attempt
// come back as *transportError.
func (c *Client) roundTrip(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxRequestBytes*4))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transportError{
			err:   errors.New("rate limited by node"),
			after: retryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &transportError{err: fmt.Errorf("node returned %s: %s", resp.Status, bytes.TrimSpace(payload))}
	}

	var out rpcResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &transportError{err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// SubmitTransaction sends a signed transaction and returns its receipt.
func (c *Client) SubmitTransaction(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error) {
	var receipt runtime.Receipt
	if err := c.call(ctx, MethodSubmitTransaction, []any{tx}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Query runs a read-only method and returns its raw JSON result.
func (c *Client) Query(ctx context.Context, contract domain.Address, method string, args any) (json.RawMessage, error) {
	params := QueryParams{Contract: contract, Method: method}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		params.Args = b
	}

	var result json.RawMessage
	if err := c.call(ctx, MethodQuery, []any{params}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetContractKind returns the kind deployed at addr.
func (c *Client) GetContractKind(ctx context.Context, addr domain.Address) (string, error) {
	var kind string
	if err := c.call(ctx, MethodGetContractKind, []any{addr}, &kind); err != nil {
		return "", err
	}
	return kind, nil
}

// GetSequence returns the last committed ledger sequence.
func (c *Client) GetSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := c.call(ctx, MethodGetSequence, nil, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// GetEvents returns stored events matching p.
func (c *Client) GetEvents(ctx context.Context, p EventsParams) ([]*domain.Event, error) {
	var evs []*domain.Event
	if err := c.call(ctx, MethodGetEvents, []any{p}, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// Caller adapts the client to runtime.Caller so typed contract clients
// (oracle.Dial, token.Dial, exchange.Dial) work against a remote node.
func (c *Client) Caller(ctx context.Context) runtime.Caller {
	return &remoteCaller{ctx: ctx, client: c}
}

type remoteCaller struct {
	ctx    context.Context
	client *Client
}

func (r *remoteCaller) Call(contract domain.Address, method string, args, result any) error {
	raw, err := r.client.Query(r.ctx, contract, method, args)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (r *remoteCaller) KindOf(contract domain.Address) (string, error) {
	return r.client.GetContractKind(r.ctx, contract)
}
