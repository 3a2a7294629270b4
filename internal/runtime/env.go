package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/storage"
)

// Env is the execution environment handed to a contract for one call frame.
// Storage access is scoped to the partition of the executing contract.
type Env struct {
	ctx      context.Context
	host     *Host
	tx       storage.Tx
	contract domain.Address
	invoker  domain.Address
	exec     *execution
}

// execution is state shared by every frame of one transaction or query.
type execution struct {
	signers  map[domain.Address]bool
	stack    []domain.Address
	events   []*domain.Event
	journal  []undo
	readOnly bool
	now      uint64
}

// undo restores one key to its value before a nested frame wrote it.
type undo struct {
	partition string
	key       string
	prev      []byte
	existed   bool
}

// Context returns the context of the enclosing transaction.
func (e *Env) Context() context.Context { return e.ctx }

// Contract returns the address of the executing contract.
func (e *Env) Contract() domain.Address { return e.contract }

// Invoker returns the contract that called into this frame, or the zero
// address for the root call of a transaction.
func (e *Env) Invoker() domain.Address { return e.invoker }

// Now returns the ledger timestamp (unix seconds) of the transaction.
func (e *Env) Now() uint64 { return e.exec.now }

// ReadOnly reports whether the frame belongs to a query.
func (e *Env) ReadOnly() bool { return e.exec.readOnly }

// Logger returns the host logger annotated with the executing contract.
func (e *Env) Logger() *zerolog.Logger {
	l := e.host.logger.With().Str("contract", e.contract.String()).Logger()
	return &l
}

// RequireAuth succeeds when account signed the transaction or is the
// contract that directly invoked this frame.
func (e *Env) RequireAuth(account domain.Address) error {
	if account.IsZero() {
		return fmt.Errorf("%w: empty account", domain.ErrUnauthorized)
	}
	if e.exec.signers[account] {
		return nil
	}
	if !e.invoker.IsZero() && e.invoker == account {
		return nil
	}
	return fmt.Errorf("%w: missing authorization from %s", domain.ErrUnauthorized, account)
}

// Emit records an event for the executing contract. Events become visible
// only when the transaction commits.
func (e *Env) Emit(ev *domain.Event) error {
	if e.exec.readOnly {
		return ErrReadOnly
	}
	ev.Contract = e.contract
	e.exec.events = append(e.exec.events, ev)
	return nil
}

// KindOf returns the kind of the contract deployed at contract.
func (e *Env) KindOf(contract domain.Address) (string, error) {
	return e.host.kindOf(e.ctx, e.tx, contract)
}

// Call invokes another contract within the same transaction.
// The callee sees this contract as its invoker. When the callee fails, its
// writes and events are discarded, so a caller may recover from the error.
func (e *Env) Call(contract domain.Address, method string, args, result any) error {
	if len(e.exec.stack) >= MaxCallDepth {
		return ErrCallDepthExceeded
	}
	for _, addr := range e.exec.stack {
		if addr == contract {
			return fmt.Errorf("%w: %s", ErrReentrantCall, contract)
		}
	}

	kind, err := e.KindOf(contract)
	if err != nil {
		return err
	}
	code := e.host.contracts[kind]

	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}

	child := &Env{
		ctx:      e.ctx,
		host:     e.host,
		tx:       e.tx,
		contract: contract,
		invoker:  e.contract,
		exec:     e.exec,
	}
	e.exec.stack = append(e.exec.stack, contract)
	events, writes := len(e.exec.events), len(e.exec.journal)
	defer func() { e.exec.stack = e.exec.stack[:len(e.exec.stack)-1] }()

	e.host.metrics.RecordCall(kind, method)
	res, err := code.Invoke(child, method, raw)
	if err != nil {
		e.exec.events = e.exec.events[:events]
		if rerr := e.revert(writes); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return decodeResult(res, result)
}

// revert undoes journaled writes back to mark, newest first.
func (e *Env) revert(mark int) error {
	for i := len(e.exec.journal) - 1; i >= mark; i-- {
		u := e.exec.journal[i]
		var err error
		if u.existed {
			err = e.tx.Set(e.ctx, u.partition, u.key, u.prev)
		} else {
			err = e.tx.Delete(e.ctx, u.partition, u.key)
		}
		if err != nil {
			return fmt.Errorf("revert %s/%s: %w", u.partition, u.key, err)
		}
	}
	e.exec.journal = e.exec.journal[:mark]
	return nil
}

// remember journals the current value of key before a nested frame
// overwrites it. Root frame writes are undone by the storage rollback.
func (e *Env) remember(key string) error {
	if e.invoker.IsZero() {
		return nil
	}
	prev, existed, err := e.Load(key)
	if err != nil {
		return err
	}
	e.exec.journal = append(e.exec.journal, undo{
		partition: e.contract.String(),
		key:       key,
		prev:      prev,
		existed:   existed,
	})
	return nil
}

// Load reads key from the contract partition. ok is false when the key is absent.
func (e *Env) Load(key string) (value []byte, ok bool, err error) {
	value, err = e.tx.Get(e.ctx, e.contract.String(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return value, true, nil
}

// Store writes key in the contract partition.
func (e *Env) Store(key string, value []byte) error {
	if e.exec.readOnly {
		return ErrReadOnly
	}
	if err := e.remember(key); err != nil {
		return err
	}
	if err := e.tx.Set(e.ctx, e.contract.String(), key, value); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Remove deletes key from the contract partition.
func (e *Env) Remove(key string) error {
	if e.exec.readOnly {
		return ErrReadOnly
	}
	if err := e.remember(key); err != nil {
		return err
	}
	if err := e.tx.Delete(e.ctx, e.contract.String(), key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Has reports whether key is present in the contract partition.
func (e *Env) Has(key string) (bool, error) {
	_, ok, err := e.Load(key)
	return ok, err
}

// LoadAddress reads an address value.
func (e *Env) LoadAddress(key string) (domain.Address, bool, error) {
	raw, ok, err := e.Load(key)
	if err != nil || !ok {
		return "", ok, err
	}
	return domain.Address(raw), true, nil
}

// StoreAddress writes an address value.
func (e *Env) StoreAddress(key string, addr domain.Address) error {
	return e.Store(key, []byte(addr))
}

// LoadString reads a string value.
func (e *Env) LoadString(key string) (string, bool, error) {
	raw, ok, err := e.Load(key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// StoreString writes a string value.
func (e *Env) StoreString(key, value string) error {
	return e.Store(key, []byte(value))
}

// LoadInt128 reads a 16-byte big-endian two's complement integer.
// An absent key reads as zero.
func (e *Env) LoadInt128(key string) (domain.Int128, error) {
	raw, ok, err := e.Load(key)
	if err != nil || !ok {
		return domain.Int128{}, err
	}
	if len(raw) != 16 {
		return domain.Int128{}, fmt.Errorf("load %s: corrupt int128 of %d bytes", key, len(raw))
	}
	var buf [16]byte
	copy(buf[:], raw)
	return domain.Int128FromBytes16(buf), nil
}

// StoreInt128 writes a 16-byte big-endian two's complement integer.
func (e *Env) StoreInt128(key string, v domain.Int128) error {
	buf := v.Bytes16()
	return e.Store(key, buf[:])
}

// LoadUint64 reads an 8-byte big-endian integer. An absent key reads as zero.
func (e *Env) LoadUint64(key string) (uint64, error) {
	raw, ok, err := e.Load(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("load %s: corrupt uint64 of %d bytes", key, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// StoreUint64 writes an 8-byte big-endian integer.
func (e *Env) StoreUint64(key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return e.Store(key, buf[:])
}
