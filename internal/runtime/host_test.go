package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/storage/memory"
)

// counter is a minimal contract exercising every Env facility.
type counter struct{}

type counterArgs struct {
	Account domain.Address `json:"account,omitempty"`
	Target  domain.Address `json:"target,omitempty"`
	Next    domain.Address `json:"next,omitempty"`
	By      uint64         `json:"by,omitempty"`
}

var errBoom = errors.New("boom")

func (counter) Kind() string { return "counter" }

func (counter) Invoke(env *Env, method string, args json.RawMessage) (any, error) {
	return Router{
		"incr": Bind(func(env *Env, a counterArgs) (any, error) {
			if err := env.RequireAuth(a.Account); err != nil {
				return nil, err
			}
			n, err := env.LoadUint64("count")
			if err != nil {
				return nil, err
			}
			n += a.By
			if err := env.StoreUint64("count", n); err != nil {
				return nil, err
			}
			if err := env.Emit(&domain.Event{Topic: "Incr", Key: a.Account.String(), Data: map[string]string{}}); err != nil {
				return nil, err
			}
			return n, nil
		}),
		"get": Bind(func(env *Env, _ counterArgs) (any, error) {
			return env.LoadUint64("count")
		}),
		"incr_then_fail": Bind(func(env *Env, a counterArgs) (any, error) {
			if err := env.StoreUint64("count", 1000); err != nil {
				return nil, err
			}
			_ = env.Emit(&domain.Event{Topic: "Incr", Data: map[string]string{}})
			return nil, errBoom
		}),
		"forward": Bind(func(env *Env, a counterArgs) (any, error) {
			var n uint64
			err := env.Call(a.Target, "incr", counterArgs{Account: env.Contract(), By: a.By}, &n)
			return n, err
		}),
		"forward_then_fail": Bind(func(env *Env, a counterArgs) (any, error) {
			if err := env.Call(a.Target, "incr", counterArgs{Account: env.Contract(), By: a.By}, nil); err != nil {
				return nil, err
			}
			return nil, errBoom
		}),
		"try_forward_then_fail": Bind(func(env *Env, a counterArgs) (any, error) {
			err := env.Call(a.Target, "forward_then_fail", counterArgs{Target: a.Next, By: a.By}, nil)
			if !errors.Is(err, errBoom) {
				return nil, fmt.Errorf("expected boom, got %v", err)
			}
			return nil, env.StoreUint64("recovered", 1)
		}),
		"call_back": Bind(func(env *Env, a counterArgs) (any, error) {
			return nil, env.Call(env.Invoker(), "get", nil, nil)
		}),
		"bounce": Bind(func(env *Env, a counterArgs) (any, error) {
			return nil, env.Call(a.Target, "call_back", nil, nil)
		}),
		"whoami": Bind(func(env *Env, _ counterArgs) (any, error) {
			return env.Invoker(), nil
		}),
	}.Dispatch(env, method, args)
}

type recordingSink struct {
	batches [][]*domain.Event
}

func (s *recordingSink) Publish(_ context.Context, events []*domain.Event) error {
	s.batches = append(s.batches, events)
	return nil
}

func newTestHost(t *testing.T) (*Host, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	return NewHost(memory.NewKVStore(), Options{Clock: clock, Sink: sink}, counter{}), sink
}

func deploy(t *testing.T, h *Host, deployer *identity.KeyPair, salt string) domain.Address {
	t.Helper()
	addr, err := h.Deploy(context.Background(), "counter", deployer.Address(), []byte(salt))
	require.NoError(t, err)
	return addr
}

func mustKey(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func TestHost_ExecuteCommitsAndStampsEvents(t *testing.T) {
	ctx := context.Background()
	h, sink := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	r1, err := h.Submit(ctx, c, "incr", counterArgs{Account: alice.Address(), By: 2}, alice)
	require.NoError(t, err)
	r2, err := h.Submit(ctx, c, "incr", counterArgs{Account: alice.Address(), By: 3}, alice)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.Sequence)
	assert.Equal(t, uint64(2), r2.Sequence)
	assert.JSONEq(t, "5", string(r2.Result))

	require.Len(t, r2.Events, 1)
	ev := r2.Events[0]
	assert.Equal(t, c, ev.Contract)
	assert.Equal(t, uint64(2), ev.Sequence)
	assert.Equal(t, r2.TxHash, ev.TxHash)
	assert.Equal(t, uint64(1_700_000_000), ev.Timestamp)
	assert.Len(t, sink.batches, 2)

	seq, err := h.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestHost_RequireAuth(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	mallory := mustKey(t)
	c := deploy(t, h, alice, "c1")

	_, err := h.Submit(ctx, c, "incr", counterArgs{Account: alice.Address(), By: 1}, mallory)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHost_FailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	h, sink := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	_, err := h.Submit(ctx, c, "incr", counterArgs{Account: alice.Address(), By: 7}, alice)
	require.NoError(t, err)

	_, err = h.Submit(ctx, c, "incr_then_fail", nil, alice)
	assert.ErrorIs(t, err, errBoom)

	raw, err := h.Query(ctx, c, "get", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "7", string(raw))
	assert.Len(t, sink.batches, 1)

	seq, err := h.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestHost_CrossContractFailureRollsBackCallee(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	front := deploy(t, h, alice, "front")
	back := deploy(t, h, alice, "back")

	r, err := h.Submit(ctx, front, "forward", counterArgs{Target: back, By: 4}, alice)
	require.NoError(t, err)
	assert.JSONEq(t, "4", string(r.Result))
	require.Len(t, r.Events, 1)
	assert.Equal(t, back, r.Events[0].Contract)

	_, err = h.Submit(ctx, front, "forward_then_fail", counterArgs{Target: back, By: 10}, alice)
	assert.ErrorIs(t, err, errBoom)

	raw, err := h.Query(ctx, back, "get", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "4", string(raw))
}

func TestHost_RecoveredCallLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	front := deploy(t, h, alice, "front")
	mid := deploy(t, h, alice, "mid")
	back := deploy(t, h, alice, "back")

	_, err := h.Submit(ctx, front, "forward", counterArgs{Target: back, By: 4}, alice)
	require.NoError(t, err)

	r, err := h.Submit(ctx, front, "try_forward_then_fail", counterArgs{Target: mid, Next: back, By: 10}, alice)
	require.NoError(t, err)
	assert.Empty(t, r.Events)

	raw, err := h.Query(ctx, back, "get", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "4", string(raw))
}

func TestHost_InvokerIsCallingContract(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	raw, err := h.Query(ctx, c, "whoami", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `""`, string(raw))
}

func TestHost_ReentrantCallRejected(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	a := deploy(t, h, alice, "a")
	b := deploy(t, h, alice, "b")

	_, err := h.Submit(ctx, a, "bounce", counterArgs{Target: b}, alice)
	assert.ErrorIs(t, err, ErrReentrantCall)

	_, err = h.Submit(ctx, a, "forward", counterArgs{Target: a, By: 1}, alice)
	assert.ErrorIs(t, err, ErrReentrantCall)
}

func TestHost_DuplicateTransactionRejected(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	stx, err := NewTransaction(c, "incr", counterArgs{Account: alice.Address(), By: 1}, 42)
	require.NoError(t, err)
	stx.Sign(alice)

	_, err = h.Execute(ctx, stx)
	require.NoError(t, err)
	_, err = h.Execute(ctx, stx)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestHost_SignatureChecks(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	stx, err := NewTransaction(c, "incr", counterArgs{Account: alice.Address(), By: 1}, 1)
	require.NoError(t, err)

	_, err = h.Execute(ctx, stx)
	assert.ErrorIs(t, err, ErrMissingSigner)

	stx.Sign(alice)
	stx.Nonce = 2 // signature no longer covers the transaction
	_, err = h.Execute(ctx, stx)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHost_QueryIsReadOnly(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	_, err := h.Query(ctx, c, "incr", counterArgs{Account: alice.Address(), By: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.Query(ctx, c, "incr_then_fail", nil)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestHost_UnknownContractAndMethod(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	_, err := h.Submit(ctx, c, "nope", nil, alice)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = h.Submit(ctx, alice.Address(), "incr", nil, alice)
	assert.ErrorIs(t, err, ErrContractNotFound)

	_, err = h.Deploy(ctx, "missing", alice.Address(), []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = h.Deploy(ctx, "counter", alice.Address(), []byte("c1"))
	assert.ErrorIs(t, err, ErrContractExists)
}

func TestHost_ReaderAndExpectKind(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	alice := mustKey(t)
	c := deploy(t, h, alice, "c1")

	r := h.Reader(ctx)
	require.NoError(t, ExpectKind(r, c, "counter"))
	assert.ErrorIs(t, ExpectKind(r, c, "oracle"), ErrWrongContract)
	assert.ErrorIs(t, ExpectKind(r, alice.Address(), "counter"), ErrContractNotFound)

	var n uint64
	require.NoError(t, r.Call(c, "get", nil, &n))
	assert.Equal(t, uint64(0), n)
}

func TestClassify(t *testing.T) {
	code, ok := Classify(errors.Join(domain.ErrPaymentFailed, domain.ErrInsufficientAllowance))
	require.True(t, ok)
	assert.Equal(t, "PaymentFailed", code.Name)

	_, ok = Classify(errBoom)
	assert.False(t, ok)

	assert.Equal(t, domain.ErrPriceUnavailable, ErrorByCode(12))
	assert.Nil(t, ErrorByCode(9999))
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "internal", Outcome(errBoom))
}
