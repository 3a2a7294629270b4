package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambar-ledger/internal/access"
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/oracle"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/storage/memory"
	"ambar-ledger/internal/token"
)

const now = 1_700_000_000

type fixture struct {
	t    *testing.T
	ctx  context.Context
	host *runtime.Host

	owner *identity.KeyPair
	user  *identity.KeyPair

	oracle   domain.Address
	usdc     domain.Address
	ener     domain.Address
	exchange domain.Address
}

// newFixture deploys a price registry, a reference asset, a token ledger
// minted by the orchestrator, and the orchestrator wired to all three.
// The user holds 100 reference asset units and approved the orchestrator for all of them.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return time.Unix(now, 0) }
	host := runtime.NewHost(memory.NewKVStore(), runtime.Options{Clock: clock},
		oracle.New(), token.New(), New())

	f := &fixture{t: t, ctx: ctx, host: host, owner: newKey(t), user: newKey(t)}
	deployer := f.owner.Address()

	f.oracle = f.deploy(oracle.Kind, "oracle")
	f.usdc = f.deploy(token.Kind, "usdc")
	f.ener = f.deploy(token.Kind, "ener")
	f.exchange = f.deploy(Kind, "exchange")

	zero := uint32(0)
	f.submit(f.owner, f.oracle, oracle.MethodConstruct, access.ConstructArgs{Owner: deployer})
	f.submit(f.owner, f.usdc, token.MethodConstruct, token.ConstructArgs{Owner: deployer, Name: "USD Coin", Symbol: "USDC", Decimals: &zero})
	f.submit(f.owner, f.ener, token.MethodConstruct, token.ConstructArgs{Owner: deployer, Decimals: &zero})
	f.submit(f.owner, f.exchange, MethodConstruct, access.ConstructArgs{Owner: deployer})

	f.submit(f.owner, f.ener, token.MethodSetMinter, token.SetMinterArgs{Caller: deployer, Minter: f.exchange})
	f.submit(f.owner, f.usdc, token.MethodSetMinter, token.SetMinterArgs{Caller: deployer, Minter: deployer})
	f.submit(f.owner, f.usdc, token.MethodMint, token.MintArgs{Caller: deployer, Account: f.user.Address(), Amount: domain.NewInt128(100)})
	f.submit(f.user, f.usdc, token.MethodApprove, token.ApproveArgs{From: f.user.Address(), Spender: f.exchange, Amount: domain.NewInt128(100)})

	f.submit(f.owner, f.exchange, MethodSetOracleContract, SetAddressArgs{Caller: deployer, Address: f.oracle})
	f.submit(f.owner, f.exchange, MethodSetReferenceAssetContract, SetAddressArgs{Caller: deployer, Address: f.usdc})
	f.submit(f.owner, f.exchange, MethodSetTokenContract, SetTokenArgs{Caller: deployer, Symbol: "XLM", Address: f.ener})
	return f
}

func newKey(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func (f *fixture) deploy(kind, salt string) domain.Address {
	f.t.Helper()
	addr, err := f.host.Deploy(f.ctx, kind, f.owner.Address(), []byte(salt))
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) submit(signer *identity.KeyPair, contract domain.Address, method string, args any) *runtime.Receipt {
	f.t.Helper()
	r, err := f.host.Submit(f.ctx, contract, method, args, signer)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) setPrice(asset string, price int64, observedAt, validFor uint64) {
	f.t.Helper()
	f.submit(f.owner, f.oracle, oracle.MethodSetPrice, oracle.SetPriceArgs{
		Caller:     f.owner.Address(),
		Asset:      asset,
		Price:      domain.NewInt128(price),
		ObservedAt: observedAt,
		ValidFor:   validFor,
	})
}

func (f *fixture) mint(signer *identity.KeyPair, symbol string, amount int64) (*runtime.Receipt, error) {
	return f.host.Submit(f.ctx, f.exchange, MethodMintWithReferenceAsset, MintArgs{
		User:   f.user.Address(),
		Symbol: symbol,
		Amount: domain.NewInt128(amount),
	}, signer)
}

func (f *fixture) balance(ledger, account domain.Address) domain.Int128 {
	f.t.Helper()
	v, err := token.NewClient(f.host.Reader(f.ctx), ledger).Balance(account)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) supply(ledger domain.Address) domain.Int128 {
	f.t.Helper()
	v, err := token.NewClient(f.host.Reader(f.ctx), ledger).TotalSupply()
	require.NoError(f.t, err)
	return v
}

// assertUntouched checks that no mint attempt left a trace.
func (f *fixture) assertUntouched() {
	f.t.Helper()
	assert.Equal(f.t, domain.NewInt128(100), f.balance(f.usdc, f.user.Address()))
	assert.True(f.t, f.balance(f.usdc, f.exchange).IsZero())
	assert.True(f.t, f.balance(f.ener, f.user.Address()).IsZero())
	assert.True(f.t, f.supply(f.ener).IsZero())

	allowance, err := token.NewClient(f.host.Reader(f.ctx), f.usdc).Allowance(f.user.Address(), f.exchange)
	require.NoError(f.t, err)
	assert.Equal(f.t, domain.NewInt128(100), allowance)
}

func TestMintWithReferenceAsset_PriceTwoPayTen(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)

	r, err := f.mint(f.user, "XLM", 10)
	require.NoError(t, err)

	assert.Equal(t, domain.NewInt128(5), f.balance(f.ener, f.user.Address()))
	assert.Equal(t, domain.NewInt128(5), f.supply(f.ener))
	assert.Equal(t, domain.NewInt128(90), f.balance(f.usdc, f.user.Address()))
	assert.Equal(t, domain.NewInt128(10), f.balance(f.usdc, f.exchange))

	var minted *domain.Event
	for _, ev := range r.Events {
		if ev.Topic == domain.TopicMintedTokens {
			minted = ev
		}
	}
	require.NotNil(t, minted)
	assert.Equal(t, f.exchange, minted.Contract)
	assert.Equal(t, f.user.Address().String(), minted.Key)
	assert.Equal(t, map[string]string{"amount_paid": "10", "tokens_minted": "5"}, minted.Data)

	// The audit event is the last one, after the payment and the mint.
	require.Len(t, r.Events, 3)
	assert.Equal(t, domain.TopicTransfer, r.Events[0].Topic)
	assert.Equal(t, f.usdc, r.Events[0].Contract)
	assert.Equal(t, domain.TopicMint, r.Events[1].Topic)
	assert.Equal(t, f.ener, r.Events[1].Contract)
	assert.Equal(t, domain.TopicMintedTokens, r.Events[2].Topic)

	var q Quote
	require.NoError(t, decode(r, &q))
	assert.Equal(t, domain.NewInt128(5), q.TokensMinted)
	assert.True(t, q.Remainder.IsZero())
}

func TestMintWithReferenceAsset_RemainderRetained(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 3, now, 0)

	_, err := f.mint(f.user, "XLM", 10)
	require.NoError(t, err)

	assert.Equal(t, domain.NewInt128(3), f.balance(f.ener, f.user.Address()))
	assert.Equal(t, domain.NewInt128(10), f.balance(f.usdc, f.exchange))
}

func TestMintWithReferenceAsset_Accumulates(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)

	_, err := f.mint(f.user, "XLM", 10)
	require.NoError(t, err)
	_, err = f.mint(f.user, "XLM", 4)
	require.NoError(t, err)

	assert.Equal(t, domain.NewInt128(7), f.balance(f.ener, f.user.Address()))
	assert.Equal(t, domain.NewInt128(86), f.balance(f.usdc, f.user.Address()))
}

func TestMintWithReferenceAsset_NoPrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.mint(f.user, "XLM", 10)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	f.assertUntouched()
}

func TestMintWithReferenceAsset_StalePrice(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now-120, 60)

	_, err := f.mint(f.user, "XLM", 10)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	f.assertUntouched()

	f.setPrice("XLM", 2, now-30, 60)
	_, err = f.mint(f.user, "XLM", 10)
	require.NoError(t, err)
}

func TestMintWithReferenceAsset_TokenNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.setPrice("BTC", 2, now, 0)

	_, err := f.mint(f.user, "BTC", 10)
	assert.ErrorIs(t, err, domain.ErrTokenNotConfigured)
	f.assertUntouched()
}

func TestMintWithReferenceAsset_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)
	mallory := newKey(t)

	_, err := f.mint(mallory, "XLM", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	f.assertUntouched()
}

func TestMintWithReferenceAsset_NegativeAmount(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 20, now, 0)

	_, err := f.mint(f.user, "XLM", -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	f.assertUntouched()
}

func TestMintWithReferenceAsset_BelowPriceMintsZero(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)

	tests := []struct {
		amount int64
		paid   string
	}{
		{amount: 1, paid: "1"},
		{amount: 0, paid: "0"},
	}
	for _, tt := range tests {
		r, err := f.mint(f.user, "XLM", tt.amount)
		require.NoError(t, err, "amount %d", tt.amount)

		last := r.Events[len(r.Events)-1]
		assert.Equal(t, domain.TopicMintedTokens, last.Topic)
		assert.Equal(t, map[string]string{"amount_paid": tt.paid, "tokens_minted": "0"}, last.Data)
	}

	assert.Equal(t, domain.NewInt128(99), f.balance(f.usdc, f.user.Address()))
	assert.Equal(t, domain.NewInt128(1), f.balance(f.usdc, f.exchange))
	assert.True(t, f.balance(f.ener, f.user.Address()).IsZero())
	assert.True(t, f.supply(f.ener).IsZero())
}

func TestMintWithReferenceAsset_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)

	_, err := f.mint(f.user, "XLM", 101)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	f.assertUntouched()

	// Allowance large enough, balance too small.
	f.submit(f.user, f.usdc, token.MethodApprove, token.ApproveArgs{
		From: f.user.Address(), Spender: f.exchange, Amount: domain.NewInt128(1000),
	})
	_, err = f.mint(f.user, "XLM", 500)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.NewInt128(100), f.balance(f.usdc, f.user.Address()))
	assert.True(t, f.supply(f.ener).IsZero())
}

func TestMintWithReferenceAsset_MintFailureRollsBackPayment(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)

	// The orchestrator is no longer the ledger's minter.
	f.submit(f.owner, f.ener, token.MethodSetMinter, token.SetMinterArgs{Caller: f.owner.Address(), Minter: f.owner.Address()})

	_, err := f.mint(f.user, "XLM", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	f.assertUntouched()
}

func TestMintWithReferenceAsset_UnsetCollaborators(t *testing.T) {
	ctx := context.Background()
	host := runtime.NewHost(memory.NewKVStore(), runtime.Options{}, oracle.New(), token.New(), New())
	owner := newKey(t)
	addr, err := host.Deploy(ctx, Kind, owner.Address(), []byte("bare"))
	require.NoError(t, err)
	_, err = host.Submit(ctx, addr, MethodConstruct, access.ConstructArgs{Owner: owner.Address()}, owner)
	require.NoError(t, err)

	args := MintArgs{User: owner.Address(), Symbol: "XLM", Amount: domain.NewInt128(10)}
	_, err = host.Submit(ctx, addr, MethodMintWithReferenceAsset, args, owner)
	assert.ErrorIs(t, err, domain.ErrTokenNotConfigured)

	ledger, err := host.Deploy(ctx, token.Kind, owner.Address(), []byte("ledger"))
	require.NoError(t, err)
	_, err = host.Submit(ctx, addr, MethodSetTokenContract, SetTokenArgs{Caller: owner.Address(), Symbol: "XLM", Address: ledger}, owner)
	require.NoError(t, err)

	_, err = host.Submit(ctx, addr, MethodMintWithReferenceAsset, args, owner)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	// A registry address that hosts something else is as good as none.
	_, err = host.Submit(ctx, addr, MethodSetOracleContract, SetAddressArgs{Caller: owner.Address(), Address: ledger}, owner)
	require.NoError(t, err)
	_, err = host.Submit(ctx, addr, MethodMintWithReferenceAsset, args, owner)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.ErrorIs(t, err, runtime.ErrWrongContract)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 3, now, 0)

	c, err := Dial(f.host.Reader(f.ctx), f.exchange)
	require.NoError(t, err)

	q, err := c.Quote("XLM", domain.NewInt128(10))
	require.NoError(t, err)
	assert.Equal(t, f.ener, q.Token)
	assert.Equal(t, domain.NewInt128(3), q.Price)
	assert.Equal(t, domain.NewInt128(3), q.TokensMinted)
	assert.Equal(t, domain.NewInt128(1), q.Remainder)

	_, err = c.Quote("DOGE", domain.NewInt128(10))
	assert.ErrorIs(t, err, domain.ErrTokenNotConfigured)

	tokenAddr, err := c.TokenContract("XLM")
	require.NoError(t, err)
	assert.Equal(t, f.ener, tokenAddr)
	oracleAddr, err := c.Oracle()
	require.NoError(t, err)
	assert.Equal(t, f.oracle, oracleAddr)
	assetAddr, err := c.ReferenceAsset()
	require.NoError(t, err)
	assert.Equal(t, f.usdc, assetAddr)

	f.assertUntouched()
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.setPrice("XLM", 2, now, 0)
	treasury := newKey(t).Address()

	_, err := f.mint(f.user, "XLM", 10)
	require.NoError(t, err)

	_, err = f.host.Submit(f.ctx, f.exchange, MethodWithdraw, WithdrawArgs{
		Caller: f.user.Address(), To: treasury, Amount: domain.NewInt128(10),
	}, f.user)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	f.submit(f.owner, f.exchange, MethodWithdraw, WithdrawArgs{
		Caller: f.owner.Address(), To: treasury, Amount: domain.NewInt128(7),
	})
	assert.Equal(t, domain.NewInt128(7), f.balance(f.usdc, treasury))
	assert.Equal(t, domain.NewInt128(3), f.balance(f.usdc, f.exchange))

	_, err = f.host.Submit(f.ctx, f.exchange, MethodWithdraw, WithdrawArgs{
		Caller: f.owner.Address(), To: treasury, Amount: domain.NewInt128(4),
	}, f.owner)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestConfiguration_OwnerOnly(t *testing.T) {
	f := newFixture(t)

	_, err := f.host.Submit(f.ctx, f.exchange, MethodSetTokenContract, SetTokenArgs{
		Caller: f.user.Address(), Symbol: "XLM", Address: f.usdc,
	}, f.user)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.host.Submit(f.ctx, f.exchange, MethodSetOracleContract, SetAddressArgs{
		Caller: f.user.Address(), Address: f.usdc,
	}, f.user)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Last write wins.
	f.submit(f.owner, f.exchange, MethodSetTokenContract, SetTokenArgs{Caller: f.owner.Address(), Symbol: "XLM", Address: f.usdc})
	c, err := Dial(f.host.Reader(f.ctx), f.exchange)
	require.NoError(t, err)
	addr, err := c.TokenContract("XLM")
	require.NoError(t, err)
	assert.Equal(t, f.usdc, addr)
}

func TestConstruct_ExactlyOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.host.Submit(f.ctx, f.exchange, MethodConstruct, access.ConstructArgs{Owner: f.user.Address()}, f.user)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	var owner domain.Address
	require.NoError(t, f.host.Reader(f.ctx).Call(f.exchange, MethodOwner, nil, &owner))
	assert.Equal(t, f.owner.Address(), owner)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	next := newKey(t)

	f.submit(f.owner, f.exchange, MethodTransferOwnership, access.TransferOwnershipArgs{
		Caller: f.owner.Address(), NewOwner: next.Address(),
	})

	_, err := f.host.Submit(f.ctx, f.exchange, MethodSetTokenContract, SetTokenArgs{
		Caller: f.owner.Address(), Symbol: "BTC", Address: f.ener,
	}, f.owner)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	f.submit(next, f.exchange, MethodSetTokenContract, SetTokenArgs{
		Caller: next.Address(), Symbol: "BTC", Address: f.ener,
	})
}

func decode(r *runtime.Receipt, v any) error {
	return runtime.DecodeArgs(r.Result, v)
}
