// Package exchange implements the orchestrator contract that sells priced
// tokens for a reference asset. A mint pulls payment, reads the price
// registry and mints on the token ledger registered for the symbol, all
// inside one host transaction.
package exchange

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/access"
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/oracle"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/token"
)

// Kind is the contract kind registered with the host.
const Kind = "exchange"

// Entrypoint names.
const (
	MethodConstruct                 = "construct"
	MethodSetOracleContract         = "set_oracle_contract"
	MethodSetReferenceAssetContract = "set_reference_asset_contract"
	MethodSetTokenContract          = "set_token_contract"
	MethodMintWithReferenceAsset    = "mint_with_reference_asset"
	MethodQuote                     = "quote"
	MethodWithdraw                  = "withdraw"
	MethodOracle                    = "oracle"
	MethodReferenceAsset            = "reference_asset"
	MethodTokenContract             = "token_contract"
	MethodOwner                     = "owner"
	MethodTransferOwnership         = "transfer_ownership"
)

const (
	keyOracle         = "oracle"
	keyReferenceAsset = "reference_asset"
)

// tokenKey is prefixed so that a symbol cannot shadow the singleton keys.
func tokenKey(symbol string) string { return "token:" + symbol }

// SetAddressArgs are the arguments of set_oracle_contract and set_reference_asset_contract.
type SetAddressArgs struct {
	Caller  domain.Address `json:"caller"`
	Address domain.Address `json:"address"`
}

// SetTokenArgs are the arguments of set_token_contract.
type SetTokenArgs struct {
	Caller  domain.Address `json:"caller"`
	Symbol  string         `json:"symbol"`
	Address domain.Address `json:"address"`
}

// MintArgs are the arguments of mint_with_reference_asset. User pays, signs
// and receives the minted tokens.
type MintArgs struct {
	User   domain.Address `json:"user"`
	Symbol string         `json:"symbol"`
	Amount domain.Int128  `json:"amount"`
}

// QuoteArgs are the arguments of quote.
type QuoteArgs struct {
	Symbol string        `json:"symbol"`
	Amount domain.Int128 `json:"amount"`
}

// WithdrawArgs are the arguments of withdraw.
type WithdrawArgs struct {
	Caller domain.Address `json:"caller"`
	To     domain.Address `json:"to"`
	Amount domain.Int128  `json:"amount"`
}

// SymbolArgs are the arguments of token_contract.
type SymbolArgs struct {
	Symbol string `json:"symbol"`
}

// Quote is the outcome of paying Amount for Symbol at the current price.
// Remainder is the part of the payment that buys no whole token unit; it
// stays with the orchestrator.
type Quote struct {
	Token        domain.Address `json:"token"`
	Price        domain.Int128  `json:"price"`
	ObservedAt   uint64         `json:"observed_at"`
	AmountPaid   domain.Int128  `json:"amount_paid"`
	TokensMinted domain.Int128  `json:"tokens_minted"`
	Remainder    domain.Int128  `json:"remainder"`
}

// Orchestrator is the exchange contract code.
type Orchestrator struct{}

// New returns the exchange contract.
func New() Orchestrator { return Orchestrator{} }

// Kind implements runtime.Contract.
func (Orchestrator) Kind() string { return Kind }

// Invoke implements runtime.Contract.
func (Orchestrator) Invoke(env *runtime.Env, method string, args json.RawMessage) (any, error) {
	return routes.Dispatch(env, method, args)
}

var routes = runtime.Router{
	MethodConstruct: runtime.Bind(func(env *runtime.Env, a access.ConstructArgs) (any, error) {
		return nil, access.Initialize(env, a.Owner)
	}),
	MethodSetOracleContract: runtime.Bind(func(env *runtime.Env, a SetAddressArgs) (any, error) {
		return nil, setAddress(env, a.Caller, keyOracle, a.Address)
	}),
	MethodSetReferenceAssetContract: runtime.Bind(func(env *runtime.Env, a SetAddressArgs) (any, error) {
		return nil, setAddress(env, a.Caller, keyReferenceAsset, a.Address)
	}),
	MethodSetTokenContract: runtime.Bind(func(env *runtime.Env, a SetTokenArgs) (any, error) {
		if a.Symbol == "" {
			return nil, fmt.Errorf("%w: symbol is required", runtime.ErrInvalidArgs)
		}
		return nil, setAddress(env, a.Caller, tokenKey(a.Symbol), a.Address)
	}),
	MethodMintWithReferenceAsset: runtime.Bind(func(env *runtime.Env, a MintArgs) (any, error) {
		return mintWithReferenceAsset(env, a)
	}),
	MethodQuote: runtime.Bind(func(env *runtime.Env, a QuoteArgs) (any, error) {
		return quote(env, a.Symbol, a.Amount)
	}),
	MethodWithdraw: runtime.Bind(func(env *runtime.Env, a WithdrawArgs) (any, error) {
		return nil, withdraw(env, a)
	}),
	MethodOracle: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		addr, _, err := env.LoadAddress(keyOracle)
		return addr, err
	},
	MethodReferenceAsset: func(env *runtime.Env, _ json.RawMessage) (any, error) {
		addr, _, err := env.LoadAddress(keyReferenceAsset)
		return addr, err
	},
	MethodTokenContract: runtime.Bind(func(env *runtime.Env, a SymbolArgs) (any, error) {
		addr, ok, err := env.LoadAddress(tokenKey(a.Symbol))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrTokenNotConfigured, a.Symbol)
		}
		return addr, nil
	}),
}.Merge(access.Routes())

func setAddress(env *runtime.Env, caller domain.Address, key string, addr domain.Address) error {
	if err := access.RequireOwner(env, caller); err != nil {
		return err
	}
	if addr.IsZero() {
		return fmt.Errorf("%w: address is required", runtime.ErrInvalidArgs)
	}
	return env.StoreAddress(key, addr)
}

// quote resolves the token ledger and price for symbol and prices amount.
// It performs every check of a mint that does not move funds. An amount
// below the price quotes zero tokens; the purchase still settles.
func quote(env *runtime.Env, symbol string, amount domain.Int128) (Quote, error) {
	if amount.Sign() < 0 {
		return Quote{}, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}

	tokenAddr, ok, err := env.LoadAddress(tokenKey(symbol))
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", domain.ErrTokenNotConfigured, symbol)
	}

	rec, err := currentPrice(env, symbol)
	if err != nil {
		return Quote{}, err
	}

	tokens, ok := amount.Quo(rec.Price)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s / %s", domain.ErrArithmeticError, amount, rec.Price)
	}
	remainder, _ := amount.Rem(rec.Price)

	return Quote{
		Token:        tokenAddr,
		Price:        rec.Price,
		ObservedAt:   rec.ObservedAt,
		AmountPaid:   amount,
		TokensMinted: tokens,
		Remainder:    remainder,
	}, nil
}

// currentPrice reads a fresh, positive price for symbol from the registry.
func currentPrice(env *runtime.Env, symbol string) (domain.PriceRecord, error) {
	oracleAddr, ok, err := env.LoadAddress(keyOracle)
	if err != nil {
		return domain.PriceRecord{}, err
	}
	if !ok {
		return domain.PriceRecord{}, fmt.Errorf("%w: no price registry configured", domain.ErrPriceUnavailable)
	}
	registry, err := oracle.Dial(env, oracleAddr)
	if err != nil {
		return domain.PriceRecord{}, fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
	}

	rec, err := registry.GetPrice(symbol)
	if err != nil {
		return domain.PriceRecord{}, fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
	}
	if rec.IsStale(env.Now()) {
		return domain.PriceRecord{}, fmt.Errorf("%w: %s price observed at %d expired after %ds",
			domain.ErrPriceUnavailable, symbol, rec.ObservedAt, rec.ValidFor)
	}
	if rec.Price.Sign() <= 0 {
		return domain.PriceRecord{}, fmt.Errorf("%w: %s", domain.ErrInvalidPrice, rec.Price)
	}
	return rec, nil
}

func mintWithReferenceAsset(env *runtime.Env, a MintArgs) (Quote, error) {
	if err := env.RequireAuth(a.User); err != nil {
		return Quote{}, err
	}

	q, err := quote(env, a.Symbol, a.Amount)
	if err != nil {
		return Quote{}, err
	}

	self := env.Contract()
	if err := pullPayment(env, a.User, self, a.Amount); err != nil {
		return Quote{}, err
	}

	ledger, err := token.Dial(env, q.Token)
	if err != nil {
		return Quote{}, err
	}
	if err := ledger.Mint(self, a.User, q.TokensMinted); err != nil {
		return Quote{}, err
	}

	if err := env.Emit(domain.NewMintedTokensEvent(a.User, q.AmountPaid, q.TokensMinted)); err != nil {
		return Quote{}, err
	}
	env.Logger().Debug().
		Str("user", a.User.String()).
		Str("symbol", a.Symbol).
		Str("amount_paid", q.AmountPaid.String()).
		Str("tokens_minted", q.TokensMinted.String()).
		Str("remainder", q.Remainder.String()).
		Msg("Minted tokens for reference asset")
	return q, nil
}

// pullPayment moves amount of the reference asset from user into custody.
// Every failure, configuration included, is reported as ErrPaymentFailed.
func pullPayment(env *runtime.Env, user, custody domain.Address, amount domain.Int128) error {
	assetAddr, ok, err := env.LoadAddress(keyReferenceAsset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no reference asset configured", domain.ErrPaymentFailed)
	}
	asset, err := token.Dial(env, assetAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	if err := asset.TransferFrom(custody, user, custody, amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	return nil
}

func withdraw(env *runtime.Env, a WithdrawArgs) error {
	if err := access.RequireOwner(env, a.Caller); err != nil {
		return err
	}
	if a.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, a.Amount)
	}
	assetAddr, ok, err := env.LoadAddress(keyReferenceAsset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no reference asset configured", domain.ErrNotFound)
	}
	asset, err := token.Dial(env, assetAddr)
	if err != nil {
		return err
	}
	return asset.Transfer(env.Contract(), a.To, a.Amount)
}
