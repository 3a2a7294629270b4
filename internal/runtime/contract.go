// Package runtime hosts ledger contracts: it deploys them, executes signed
// transactions atomically against a storage.KVStore and routes calls between
// contracts inside a single transaction.
package runtime

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/domain"
)

// MaxCallDepth bounds nested contract-to-contract calls, the root call included.
const MaxCallDepth = 8

// Contract is contract code. Implementations hold no state of their own;
// everything they persist goes through the Env.
type Contract interface {
	// Kind names the contract type, e.g. "oracle".
	Kind() string

	// Invoke runs one entrypoint and returns a JSON-encodable result.
	Invoke(env *Env, method string, args json.RawMessage) (any, error)
}

// Caller invokes deployed contracts.
// Env satisfies it inside a transaction; Host.Reader satisfies it for queries.
type Caller interface {
	// Call invokes method on contract and decodes the result into result (if non-nil).
	Call(contract domain.Address, method string, args, result any) error

	// KindOf returns the kind of the contract deployed at contract.
	KindOf(contract domain.Address) (string, error)
}

// Handler runs one contract entrypoint against raw JSON arguments.
type Handler func(env *Env, args json.RawMessage) (any, error)

// Router maps entrypoint names to handlers.
type Router map[string]Handler

// Dispatch runs the handler registered for method.
func (r Router) Dispatch(env *Env, method string, args json.RawMessage) (any, error) {
	h, ok := r[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return h(env, args)
}

// Merge returns a router holding the routes of r and others.
// Later routers win on duplicate names.
func (r Router) Merge(others ...Router) Router {
	out := make(Router, len(r))
	for name, h := range r {
		out[name] = h
	}
	for _, o := range others {
		for name, h := range o {
			out[name] = h
		}
	}
	return out
}

// Bind adapts a typed entrypoint into a Handler that decodes its arguments.
func Bind[A any](fn func(env *Env, args A) (any, error)) Handler {
	return func(env *Env, raw json.RawMessage) (any, error) {
		var args A
		if err := DecodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(env, args)
	}
}

// DecodeArgs unmarshals raw into v. Empty input leaves v untouched.
func DecodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// ExpectKind verifies that contract is deployed and has the given kind.
func ExpectKind(c Caller, contract domain.Address, kind string) error {
	got, err := c.KindOf(contract)
	if err != nil {
		return err
	}
	if got != kind {
		return fmt.Errorf("%w: %s is %q, want %q", ErrWrongContract, contract, got, kind)
	}
	return nil
}

func decodeResult(res any, result any) error {
	if result == nil {
		return nil
	}
	raw, ok := res.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
