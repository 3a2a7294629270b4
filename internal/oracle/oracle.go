// Package oracle implements the price registry contract: an owner-managed set
// of updaters publishes the latest price of each asset.
package oracle

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/access"
	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// Kind is the contract kind registered with the host.
const Kind = "oracle"

// Entrypoint names.
const (
	MethodConstruct         = "construct"
	MethodAuthorizeUpdater  = "authorize_updater"
	MethodRevokeUpdater     = "revoke_updater"
	MethodSetPrice          = "set_price"
	MethodGetPrice          = "get_price"
	MethodIsUpdater         = "is_updater"
	MethodOwner             = "owner"
	MethodTransferOwnership = "transfer_ownership"
)

// UpdaterArgs are the arguments of authorize_updater and revoke_updater.
type UpdaterArgs struct {
	Caller  domain.Address `json:"caller"`
	Updater domain.Address `json:"updater"`
}

// SetPriceArgs are the arguments of set_price.
type SetPriceArgs struct {
	Caller     domain.Address `json:"caller"`
	Asset      string         `json:"asset"`
	Price      domain.Int128  `json:"price"`
	ObservedAt uint64         `json:"observed_at"`
	ValidFor   uint64         `json:"valid_for,omitempty"`
	Nonce      domain.Int128  `json:"nonce"`
}

// AssetArgs are the arguments of get_price.
type AssetArgs struct {
	Asset string `json:"asset"`
}

// AccountArgs are the arguments of is_updater.
type AccountArgs struct {
	Account domain.Address `json:"account"`
}

// Registry is the price registry contract code.
type Registry struct{}

// New returns the price registry contract.
func New() Registry { return Registry{} }

// Kind implements runtime.Contract.
func (Registry) Kind() string { return Kind }

// Invoke implements runtime.Contract.
func (Registry) Invoke(env *runtime.Env, method string, args json.RawMessage) (any, error) {
	return routes.Dispatch(env, method, args)
}

var routes = runtime.Router{
	MethodConstruct: runtime.Bind(func(env *runtime.Env, a access.ConstructArgs) (any, error) {
		return nil, access.Initialize(env, a.Owner)
	}),
	MethodAuthorizeUpdater: runtime.Bind(func(env *runtime.Env, a UpdaterArgs) (any, error) {
		return nil, authorizeUpdater(env, a.Caller, a.Updater)
	}),
	MethodRevokeUpdater: runtime.Bind(func(env *runtime.Env, a UpdaterArgs) (any, error) {
		return nil, revokeUpdater(env, a.Caller, a.Updater)
	}),
	MethodSetPrice: runtime.Bind(func(env *runtime.Env, a SetPriceArgs) (any, error) {
		return nil, setPrice(env, a)
	}),
	MethodGetPrice: runtime.Bind(func(env *runtime.Env, a AssetArgs) (any, error) {
		return getPrice(env, a.Asset)
	}),
	MethodIsUpdater: runtime.Bind(func(env *runtime.Env, a AccountArgs) (any, error) {
		return isUpdater(env, a.Account)
	}),
}.Merge(access.Routes())

func updaterKey(account domain.Address) string { return "updater:" + account.String() }

func priceKey(asset string) string    { return asset + ":price" }
func tsKey(asset string) string       { return asset + ":ts" }
func validForKey(asset string) string { return asset + ":valid_for" }
func nonceKey(asset string) string    { return asset + ":nonce" }

func authorizeUpdater(env *runtime.Env, caller, updater domain.Address) error {
	if err := access.RequireOwner(env, caller); err != nil {
		return err
	}
	if updater.IsZero() {
		return fmt.Errorf("%w: updater is required", runtime.ErrInvalidArgs)
	}
	return env.Store(updaterKey(updater), []byte{1})
}

func revokeUpdater(env *runtime.Env, caller, updater domain.Address) error {
	if err := access.RequireOwner(env, caller); err != nil {
		return err
	}
	return env.Remove(updaterKey(updater))
}

func isUpdater(env *runtime.Env, account domain.Address) (bool, error) {
	return env.Has(updaterKey(account))
}

func setPrice(env *runtime.Env, a SetPriceArgs) error {
	if err := env.RequireAuth(a.Caller); err != nil {
		return err
	}
	owner, err := access.Owner(env)
	if err != nil {
		return err
	}
	if a.Caller != owner {
		ok, err := isUpdater(env, a.Caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is neither owner nor updater", domain.ErrUnauthorized, a.Caller)
		}
	}
	if a.Asset == "" {
		return fmt.Errorf("%w: asset is required", runtime.ErrInvalidArgs)
	}
	if a.Price.Sign() <= 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPrice, a.Price)
	}

	// A zero nonce skips the replay check and keeps the stored floor.
	nonce, err := env.LoadInt128(nonceKey(a.Asset))
	if err != nil {
		return err
	}
	if !a.Nonce.IsZero() {
		if !nonce.IsZero() && a.Nonce.Cmp(nonce) <= 0 {
			return fmt.Errorf("%w: nonce %s does not advance %s", domain.ErrReplayedUpdate, a.Nonce, nonce)
		}
		nonce = a.Nonce
	}

	rec := domain.PriceRecord{
		Price:      a.Price,
		ObservedAt: a.ObservedAt,
		ValidFor:   a.ValidFor,
		Nonce:      nonce,
	}
	if err := env.StoreInt128(priceKey(a.Asset), rec.Price); err != nil {
		return err
	}
	if err := env.StoreUint64(tsKey(a.Asset), rec.ObservedAt); err != nil {
		return err
	}
	if err := env.StoreUint64(validForKey(a.Asset), rec.ValidFor); err != nil {
		return err
	}
	if err := env.StoreInt128(nonceKey(a.Asset), rec.Nonce); err != nil {
		return err
	}
	return env.Emit(domain.NewPriceUpdateEvent(a.Asset, rec))
}

func getPrice(env *runtime.Env, asset string) (domain.PriceRecord, error) {
	ok, err := env.Has(priceKey(asset))
	if err != nil {
		return domain.PriceRecord{}, err
	}
	if !ok {
		return domain.PriceRecord{}, fmt.Errorf("%w: no price for %q", domain.ErrNotFound, asset)
	}

	var rec domain.PriceRecord
	if rec.Price, err = env.LoadInt128(priceKey(asset)); err != nil {
		return domain.PriceRecord{}, err
	}
	if rec.ObservedAt, err = env.LoadUint64(tsKey(asset)); err != nil {
		return domain.PriceRecord{}, err
	}
	if rec.ValidFor, err = env.LoadUint64(validForKey(asset)); err != nil {
		return domain.PriceRecord{}, err
	}
	if rec.Nonce, err = env.LoadInt128(nonceKey(asset)); err != nil {
		return domain.PriceRecord{}, err
	}
	return rec, nil
}
