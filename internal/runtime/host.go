package runtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/observability"
	"ambar-ledger/internal/storage"
)

// Host bookkeeping partitions and keys.
const (
	hostPartition     = "__host__"
	contractKeyPrefix = "contract:"
	txKeyPrefix       = "tx:"
	sequenceKey       = "sequence"
	deliveredKey      = "delivered"

	// eventPartition is the durable event log: one entry per transaction
	// that emitted events, written in the transaction itself.
	eventPartition = "__events__"
)

func eventLogKey(seq uint64) string { return fmt.Sprintf("%020d", seq) }

// EventSink receives committed events in commit order, one batch per
// transaction. A batch may be delivered again after a failure or restart.
type EventSink interface {
	Publish(ctx context.Context, events []*domain.Event) error
}

// Options configures a Host.
type Options struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// Clock supplies ledger time. Defaults to time.Now.
	Clock func() time.Time
	// Sink receives events from the event log after each commit. A failed
	// batch stays in the log and is retried by the next Flush.
	Sink EventSink
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxHash   string          `json:"tx_hash"`
	Sequence uint64          `json:"sequence"`
	Result   json.RawMessage `json:"result"`
	Events   []*domain.Event `json:"events"`
}

// Host executes transactions one at a time against a KVStore.
type Host struct {
	mu sync.Mutex
	// flushMu serializes delivery so batches reach the sink in sequence
	// order. Never acquired while holding mu.
	flushMu   sync.Mutex
	store     storage.KVStore
	contracts map[string]Contract
	logger    zerolog.Logger
	metrics   *observability.Metrics
	clock     func() time.Time
	sink      EventSink
	nonce     atomic.Uint64
}

// NewHost creates a host running the given contract kinds.
func NewHost(store storage.KVStore, opts Options, contracts ...Contract) *Host {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	h := &Host{
		store:     store,
		contracts: make(map[string]Contract, len(contracts)),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		sink:      opts.Sink,
	}
	for _, c := range contracts {
		h.contracts[c.Kind()] = c
	}
	h.nonce.Store(uint64(opts.Clock().UnixNano()))
	return h
}

// Deploy registers a contract of the given kind at an address derived from
// deployer and salt. Construction is a separate transaction.
func (h *Host) Deploy(ctx context.Context, kind string, deployer domain.Address, salt []byte) (domain.Address, error) {
	if _, ok := h.contracts[kind]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	addr, err := identity.DeriveContractAddress(deployer, salt)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Get(ctx, hostPartition, contractKeyPrefix+addr.String()); err == nil {
		return "", fmt.Errorf("%w: %s", ErrContractExists, addr)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("lookup contract: %w", err)
	}
	if err := tx.Set(ctx, hostPartition, contractKeyPrefix+addr.String(), []byte(kind)); err != nil {
		return "", fmt.Errorf("register contract: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	h.logger.Info().
		Str("kind", kind).
		Str("address", addr.String()).
		Str("deployer", deployer.String()).
		Msg("Contract deployed")
	return addr, nil
}

// Execute verifies and runs a signed transaction. Either every effect of the
// transaction commits, or none does.
func (h *Host) Execute(ctx context.Context, stx *Transaction) (*Receipt, error) {
	start := time.Now()
	receipt, kind, err := h.execute(ctx, stx)
	outcome := Outcome(err)
	h.metrics.RecordTransaction(kind, stx.Method, time.Since(start).Seconds(), outcome)

	if err != nil {
		h.logger.Debug().
			Err(err).
			Str("contract", stx.Contract.String()).
			Str("method", stx.Method).
			Str("outcome", outcome).
			Msg("Transaction rejected")
		return nil, err
	}

	h.logger.Debug().
		Str("tx", receipt.TxHash).
		Uint64("sequence", receipt.Sequence).
		Str("contract", stx.Contract.String()).
		Str("method", stx.Method).
		Int("events", len(receipt.Events)).
		Msg("Transaction committed")
	h.recordEvents(receipt.Events)
	if err := h.Flush(ctx); err != nil {
		h.logger.Error().
			Err(err).
			Uint64("sequence", receipt.Sequence).
			Msg("Event delivery deferred")
	}
	return receipt, nil
}

func (h *Host) execute(ctx context.Context, stx *Transaction) (*Receipt, string, error) {
	kind := "unknown"
	signers, err := stx.Verify()
	if err != nil {
		return nil, kind, err
	}
	hash := stx.HashHex()

	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return nil, kind, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Get(ctx, hostPartition, txKeyPrefix+hash); err == nil {
		return nil, kind, fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, kind, fmt.Errorf("lookup transaction: %w", err)
	}

	kind, err = h.kindOf(ctx, tx, stx.Contract)
	if err != nil {
		return nil, "unknown", err
	}

	exec := &execution{
		signers: signers,
		stack:   []domain.Address{stx.Contract},
		now:     uint64(h.clock().Unix()),
	}
	env := &Env{ctx: ctx, host: h, tx: tx, contract: stx.Contract, exec: exec}

	res, err := h.contracts[kind].Invoke(env, stx.Method, stx.Args)
	if err != nil {
		return nil, kind, err
	}
	result, err := json.Marshal(res)
	if err != nil {
		return nil, kind, fmt.Errorf("encode result: %w", err)
	}

	seq, err := loadSequence(ctx, tx)
	if err != nil {
		return nil, kind, err
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := tx.Set(ctx, hostPartition, sequenceKey, buf[:]); err != nil {
		return nil, kind, fmt.Errorf("store sequence: %w", err)
	}
	if err := tx.Set(ctx, hostPartition, txKeyPrefix+hash, buf[:]); err != nil {
		return nil, kind, fmt.Errorf("store transaction: %w", err)
	}

	for i, ev := range exec.events {
		ev.Sequence = seq
		ev.TxHash = hash
		ev.Index = i
		ev.Timestamp = exec.now
	}
	if len(exec.events) > 0 {
		logged, err := json.Marshal(exec.events)
		if err != nil {
			return nil, kind, fmt.Errorf("encode events: %w", err)
		}
		if err := tx.Set(ctx, eventPartition, eventLogKey(seq), logged); err != nil {
			return nil, kind, fmt.Errorf("log events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, kind, fmt.Errorf("commit: %w", err)
	}
	h.metrics.SetSequence(seq)

	return &Receipt{
		TxHash:   hash,
		Sequence: seq,
		Result:   result,
		Events:   exec.events,
	}, kind, nil
}

// Submit builds, signs and executes a transaction with a host-assigned nonce.
func (h *Host) Submit(ctx context.Context, contract domain.Address, method string, args any, signers ...*identity.KeyPair) (*Receipt, error) {
	stx, err := NewTransaction(contract, method, args, h.nonce.Add(1))
	if err != nil {
		return nil, err
	}
	for _, kp := range signers {
		stx.Sign(kp)
	}
	return h.Execute(ctx, stx)
}

// Query runs an entrypoint without signers and discards every write.
// Entrypoints that write state or emit events fail with ErrReadOnly.
func (h *Host) Query(ctx context.Context, contract domain.Address, method string, args any) (json.RawMessage, error) {
	raw, kind, err := h.query(ctx, contract, method, args)
	h.metrics.RecordQuery(kind, method, err)
	return raw, err
}

func (h *Host) query(ctx context.Context, contract domain.Address, method string, args any) (json.RawMessage, string, error) {
	kind := "unknown"
	rawArgs, err := encodeArgs(args)
	if err != nil {
		return nil, kind, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return nil, kind, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	kind, err = h.kindOf(ctx, tx, contract)
	if err != nil {
		return nil, "unknown", err
	}

	exec := &execution{
		stack:    []domain.Address{contract},
		readOnly: true,
		now:      uint64(h.clock().Unix()),
	}
	env := &Env{ctx: ctx, host: h, tx: tx, contract: contract, exec: exec}

	res, err := h.contracts[kind].Invoke(env, method, rawArgs)
	if err != nil {
		return nil, kind, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, kind, fmt.Errorf("encode result: %w", err)
	}
	return out, kind, nil
}

// KindOf returns the kind of the contract deployed at addr.
func (h *Host) KindOf(ctx context.Context, addr domain.Address) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	return h.kindOf(ctx, tx, addr)
}

// Sequence returns the sequence of the last committed transaction.
func (h *Host) Sequence(ctx context.Context) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	return loadSequence(ctx, tx)
}

// Reader returns a Caller that serves typed clients through Query.
func (h *Host) Reader(ctx context.Context) Caller {
	return &reader{ctx: ctx, host: h}
}

type reader struct {
	ctx  context.Context
	host *Host
}

func (r *reader) Call(contract domain.Address, method string, args, result any) error {
	raw, err := r.host.Query(r.ctx, contract, method, args)
	if err != nil {
		return err
	}
	return decodeResult(raw, result)
}

func (r *reader) KindOf(contract domain.Address) (string, error) {
	return r.host.KindOf(r.ctx, contract)
}

func (h *Host) kindOf(ctx context.Context, tx storage.Tx, addr domain.Address) (string, error) {
	raw, err := tx.Get(ctx, hostPartition, contractKeyPrefix+addr.String())
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrContractNotFound, addr)
	}
	if err != nil {
		return "", fmt.Errorf("lookup contract: %w", err)
	}
	kind := string(raw)
	if _, ok := h.contracts[kind]; !ok {
		return "", fmt.Errorf("%w: %s at %s", ErrUnknownKind, kind, addr)
	}
	return kind, nil
}

func (h *Host) recordEvents(events []*domain.Event) {
	for _, ev := range events {
		h.metrics.RecordEvent(ev.Topic)
		switch ev.Topic {
		case domain.TopicPriceUpdate:
			h.metrics.RecordPriceUpdate(ev.Key)
		case domain.TopicMintedTokens:
			h.metrics.RecordMint(ev.Contract.String())
		}
	}
}

// Flush hands every logged batch the sink has not yet accepted to the sink,
// in sequence order. It stops at the first failing batch; the next Flush
// resumes there. Execute flushes after each commit; call Flush on start to
// deliver batches left over from a previous run.
func (h *Host) Flush(ctx context.Context) error {
	if h.sink == nil {
		return nil
	}
	h.flushMu.Lock()
	defer h.flushMu.Unlock()

	for {
		seq, events, err := h.undelivered(ctx)
		if err != nil || seq == 0 {
			return err
		}
		if len(events) > 0 {
			if err := h.sink.Publish(ctx, events); err != nil {
				return fmt.Errorf("deliver sequence %d: %w", seq, err)
			}
		}
		if err := h.markDelivered(ctx, seq); err != nil {
			return err
		}
	}
}

// undelivered returns the first logged batch after the delivery cursor.
// A run of sequences without events comes back as its last sequence and no
// events. seq is zero when the sink is up to date.
func (h *Host) undelivered(ctx context.Context) (uint64, []*domain.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	delivered, err := loadCounter(ctx, tx, deliveredKey)
	if err != nil {
		return 0, nil, err
	}
	head, err := loadCounter(ctx, tx, sequenceKey)
	if err != nil {
		return 0, nil, err
	}

	for seq := delivered + 1; seq <= head; seq++ {
		raw, err := tx.Get(ctx, eventPartition, eventLogKey(seq))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("read event log %d: %w", seq, err)
		}
		var events []*domain.Event
		if err := json.Unmarshal(raw, &events); err != nil {
			return 0, nil, fmt.Errorf("decode event log %d: %w", seq, err)
		}
		return seq, events, nil
	}
	if head > delivered {
		return head, nil, nil
	}
	return 0, nil, nil
}

func (h *Host) markDelivered(ctx context.Context, seq uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := tx.Set(ctx, hostPartition, deliveredKey, buf[:]); err != nil {
		return fmt.Errorf("store delivery cursor: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delivery cursor: %w", err)
	}
	return nil
}

func loadSequence(ctx context.Context, tx storage.Tx) (uint64, error) {
	return loadCounter(ctx, tx, sequenceKey)
}

func loadCounter(ctx context.Context, tx storage.Tx, key string) (uint64, error) {
	raw, err := tx.Get(ctx, hostPartition, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", key, err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("load %s: corrupt value of %d bytes", key, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
