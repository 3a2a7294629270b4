// Package token implements the fungible token ledger contract: balances,
// total supply, a single minter role and spender allowances.
package token

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/access"
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// Kind is the contract kind registered with the host.
const Kind = "token"

// MaxDecimals keeps one whole unit representable in an int128.
const MaxDecimals = 38

// Entrypoint names.
const (
	MethodConstruct         = "construct"
	MethodSetMinter         = "set_minter"
	MethodMint              = "mint"
	MethodTransfer          = "transfer"
	MethodBurn              = "burn"
	MethodApprove           = "approve"
	MethodAllowance         = "allowance"
	MethodTransferFrom      = "transfer_from"
	MethodBalance           = "balance"
	MethodName              = "name"
	MethodSymbol            = "symbol"
	MethodDecimals          = "decimals"
	MethodTotalSupply       = "total_supply"
	MethodMinter            = "minter"
	MethodOwner             = "owner"
	MethodTransferOwnership = "transfer_ownership"
)

const (
	keyMinter      = "minter"
	keyName        = "name"
	keySymbol      = "symbol"
	keyDecimals    = "decimals"
	keyTotalSupply = "total_supply"
)

func balanceKey(account domain.Address) string { return "balance:" + account.String() }

func allowanceKey(from, spender domain.Address) string {
	return "allowance:" + from.String() + ":" + spender.String()
}

// ConstructArgs are the arguments of construct. Empty metadata fields take
// the EnerTrade defaults.
type ConstructArgs struct {
	Owner    domain.Address `json:"owner"`
	Name     string         `json:"name,omitempty"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals *uint32        `json:"decimals,omitempty"`
}

// SetMinterArgs are the arguments of set_minter.
type SetMinterArgs struct {
	Caller domain.Address `json:"caller"`
	Minter domain.Address `json:"minter"`
}

// MintArgs are the arguments of mint.
type MintArgs struct {
	Caller  domain.Address `json:"caller"`
	Account domain.Address `json:"account"`
	Amount  domain.Int128  `json:"amount"`
}

// TransferArgs are the arguments of transfer. Authorization comes from From.
type TransferArgs struct {
	From   domain.Address `json:"from"`
	To     domain.Address `json:"to"`
	Amount domain.Int128  `json:"amount"`
}

// BurnArgs are the arguments of burn. Authorization comes from From.
type BurnArgs struct {
	From   domain.Address `json:"from"`
	Amount domain.Int128  `json:"amount"`
}

// ApproveArgs are the arguments of approve. Authorization comes from From.
type ApproveArgs struct {
	From    domain.Address `json:"from"`
	Spender domain.Address `json:"spender"`
	Amount  domain.Int128  `json:"amount"`
}

// AllowanceArgs are the arguments of allowance.
type AllowanceArgs struct {
	From    domain.Address `json:"from"`
	Spender domain.Address `json:"spender"`
}

// TransferFromArgs are the arguments of transfer_from. Authorization comes
// from Spender, who consumes allowance granted by From.
type TransferFromArgs struct {
	Spender domain.Address `json:"spender"`
	From    domain.Address `json:"from"`
	To      domain.Address `json:"to"`
	Amount  domain.Int128  `json:"amount"`
}

// AccountArgs are the arguments of balance.
type AccountArgs struct {
	Account domain.Address `json:"account"`
}

// Ledger is the token ledger contract code.
type Ledger struct{}

// New returns the token ledger contract.
func New() Ledger { return Ledger{} }

// Kind implements runtime.Contract.
func (Ledger) Kind() string { return Kind }

// Invoke implements runtime.Contract.
func (Ledger) Invoke(env *runtime.Env, method string, args json.RawMessage) (any, error) {
	return routes.Dispatch(env, method, args)
}

var routes = runtime.Router{
	MethodConstruct: runtime.Bind(func(env *runtime.Env, a ConstructArgs) (any, error) {
		return nil, construct(env, a)
	}),
	MethodSetMinter: runtime.Bind(func(env *runtime.Env, a SetMinterArgs) (any, error) {
		return nil, setMinter(env, a.Caller, a.Minter)
	}),
	MethodMint: runtime.Bind(func(env *runtime.Env, a MintArgs) (any, error) {
		return nil, mint(env, a.Caller, a.Account, a.Amount)
	}),
	MethodTransfer: runtime.Bind(func(env *runtime.Env, a TransferArgs) (any, error) {
		if err := env.RequireAuth(a.From); err != nil {
			return nil, err
		}
		return nil, move(env, a.From, a.To, a.Amount)
	}),
	MethodBurn: runtime.Bind(func(env *runtime.Env, a BurnArgs) (any, error) {
		return nil, burn(env, a.From, a.Amount)
	}),
	MethodApprove: runtime.Bind(func(env *runtime.Env, a ApproveArgs) (any, error) {
		return nil, approve(env, a.From, a.Spender, a.Amount)
	}),
	MethodAllowance: runtime.Bind(func(env *runtime.Env, a AllowanceArgs) (any, error) {
		return env.LoadInt128(allowanceKey(a.From, a.Spender))
	}),
	MethodTransferFrom: runtime.Bind(func(env *runtime.Env, a TransferFromArgs) (any, error) {
		return nil, transferFrom(env, a)
	}),
	MethodBalance: runtime.Bind(func(env *runtime.Env, a AccountArgs) (any, error) {
		return env.LoadInt128(balanceKey(a.Account))
	}),
	MethodName: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		name, _, err := env.LoadString(keyName)
		return name, err
	},
	MethodSymbol: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		symbol, _, err := env.LoadString(keySymbol)
		return symbol, err
	},
	MethodDecimals: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		d, err := env.LoadUint64(keyDecimals)
		return uint32(d), err
	},
	MethodTotalSupply: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		return env.LoadInt128(keyTotalSupply)
	},
	MethodMinter: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		minter, _, err := env.LoadAddress(keyMinter)
		return minter, err
	},
}.Merge(access.Routes())

func construct(env *runtime.Env, a ConstructArgs) error {
	if err := access.Initialize(env, a.Owner); err != nil {
		return err
	}
	meta := domain.DefaultTokenMetadata()
	if a.Name != "" {
		meta.Name = a.Name
	}
	if a.Symbol != "" {
		meta.Symbol = a.Symbol
	}
	if a.Decimals != nil {
		meta.Decimals = *a.Decimals
	}
	if meta.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d exceeds %d", runtime.ErrInvalidArgs, meta.Decimals, MaxDecimals)
	}

	if err := env.StoreString(keyName, meta.Name); err != nil {
		return err
	}
	if err := env.StoreString(keySymbol, meta.Symbol); err != nil {
		return err
	}
	if err := env.StoreUint64(keyDecimals, uint64(meta.Decimals)); err != nil {
		return err
	}
	return env.StoreInt128(keyTotalSupply, domain.Int128{})
}

func setMinter(env *runtime.Env, caller, minter domain.Address) error {
	if err := access.RequireOwner(env, caller); err != nil {
		return err
	}
	if minter.IsZero() {
		return fmt.Errorf("%w: minter is required", runtime.ErrInvalidArgs)
	}
	return env.StoreAddress(keyMinter, minter)
}

func mint(env *runtime.Env, caller, account domain.Address, amount domain.Int128) error {
	if err := env.RequireAuth(caller); err != nil {
		return err
	}
	minter, ok, err := env.LoadAddress(keyMinter)
	if err != nil {
		return err
	}
	if !ok || caller != minter {
		return fmt.Errorf("%w: %s is not the minter", domain.ErrUnauthorized, caller)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	balance, err := env.LoadInt128(balanceKey(account))
	if err != nil {
		return err
	}
	supply, err := env.LoadInt128(keyTotalSupply)
	if err != nil {
		return err
	}
	newBalance, ok := balance.Add(amount)
	if !ok {
		return fmt.Errorf("%w: balance of %s", domain.ErrArithmeticOverflow, account)
	}
	newSupply, ok := supply.Add(amount)
	if !ok {
		return fmt.Errorf("%w: total supply", domain.ErrArithmeticOverflow)
	}

	if err := env.StoreInt128(balanceKey(account), newBalance); err != nil {
		return err
	}
	if err := env.StoreInt128(keyTotalSupply, newSupply); err != nil {
		return err
	}
	return env.Emit(domain.NewMintEvent(account, amount))
}

// move debits from and credits to. The caller has already checked authorization.
func move(env *runtime.Env, from, to domain.Address, amount domain.Int128) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if to.IsZero() {
		return fmt.Errorf("%w: recipient is required", runtime.ErrInvalidArgs)
	}
	if from == to || amount.IsZero() {
		return nil
	}

	fromBalance, err := env.LoadInt128(balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientBalance, from, fromBalance, amount)
	}
	toBalance, err := env.LoadInt128(balanceKey(to))
	if err != nil {
		return err
	}
	newFrom, _ := fromBalance.Sub(amount)
	newTo, ok := toBalance.Add(amount)
	if !ok {
		return fmt.Errorf("%w: balance of %s", domain.ErrArithmeticOverflow, to)
	}

	if err := env.StoreInt128(balanceKey(from), newFrom); err != nil {
		return err
	}
	if err := env.StoreInt128(balanceKey(to), newTo); err != nil {
		return err
	}
	return env.Emit(domain.NewTransferEvent(from, to, amount))
}

func burn(env *runtime.Env, from domain.Address, amount domain.Int128) error {
	if err := env.RequireAuth(from); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	balance, err := env.LoadInt128(balanceKey(from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientBalance, from, balance, amount)
	}
	supply, err := env.LoadInt128(keyTotalSupply)
	if err != nil {
		return err
	}
	newBalance, _ := balance.Sub(amount)
	newSupply, ok := supply.Sub(amount)
	if !ok {
		return fmt.Errorf("%w: total supply", domain.ErrArithmeticOverflow)
	}

	if err := env.StoreInt128(balanceKey(from), newBalance); err != nil {
		return err
	}
	if err := env.StoreInt128(keyTotalSupply, newSupply); err != nil {
		return err
	}
	return env.Emit(domain.NewBurnEvent(from, amount))
}

func approve(env *runtime.Env, from, spender domain.Address, amount domain.Int128) error {
	if err := env.RequireAuth(from); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if spender.IsZero() {
		return fmt.Errorf("%w: spender is required", runtime.ErrInvalidArgs)
	}
	if err := env.StoreInt128(allowanceKey(from, spender), amount); err != nil {
		return err
	}
	return env.Emit(domain.NewApproveEvent(from, spender, amount))
}

func transferFrom(env *runtime.Env, a TransferFromArgs) error {
	if err := env.RequireAuth(a.Spender); err != nil {
		return err
	}
	if a.Amount.Sign() < 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, a.Amount)
	}

	allowance, err := env.LoadInt128(allowanceKey(a.From, a.Spender))
	if err != nil {
		return err
	}
	if allowance.Cmp(a.Amount) < 0 {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			domain.ErrInsufficientAllowance, a.Spender, allowance, a.From, a.Amount)
	}
	remaining, _ := allowance.Sub(a.Amount)
	if err := env.StoreInt128(allowanceKey(a.From, a.Spender), remaining); err != nil {
		return err
	}
	return move(env, a.From, a.To, a.Amount)
}
