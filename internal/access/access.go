// Package access implements the single-owner role shared by every ledger contract.
package access

import (
	"encoding/json"
	"fmt"

	"ambar-ledger/internal/domain"
	"ambar-ledger/internal/runtime"
)

// OwnerKey holds the owner account in each contract partition.
const OwnerKey = "owner"

// ConstructArgs are the arguments of a bare construct(owner) entrypoint.
type ConstructArgs struct {
	Owner domain.Address `json:"owner"`
}

// TransferOwnershipArgs are the arguments of transfer_ownership.
type TransferOwnershipArgs struct {
	Caller   domain.Address `json:"caller"`
	NewOwner domain.Address `json:"new_owner"`
}

// Initialize records the owner. It fails with ErrAlreadyInitialized when an
// owner is already present, leaving it untouched.
func Initialize(env *runtime.Env, owner domain.Address) error {
	ok, err := env.Has(OwnerKey)
	if err != nil {
		return err
	}
	if ok {
		return domain.ErrAlreadyInitialized
	}
	if owner.IsZero() {
		return fmt.Errorf("%w: owner is required", runtime.ErrInvalidArgs)
	}
	return env.StoreAddress(OwnerKey, owner)
}

// Owner returns the current owner, or ErrNotInitialized before construct.
func Owner(env *runtime.Env) (domain.Address, error) {
	owner, ok, err := env.LoadAddress(OwnerKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotInitialized
	}
	return owner, nil
}

// RequireOwner checks that caller carries an authorization proof and is the owner.
func RequireOwner(env *runtime.Env, caller domain.Address) error {
	if err := env.RequireAuth(caller); err != nil {
		return err
	}
	owner, err := Owner(env)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the owner", domain.ErrUnauthorized, caller)
	}
	return nil
}

// TransferOwnership replaces the owner. Only the current owner may call it.
func TransferOwnership(env *runtime.Env, caller, newOwner domain.Address) error {
	if err := RequireOwner(env, caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return fmt.Errorf("%w: new owner is required", runtime.ErrInvalidArgs)
	}
	if err := env.StoreAddress(OwnerKey, newOwner); err != nil {
		return err
	}
	env.Logger().Info().
		Str("previous_owner", caller.String()).
		Str("new_owner", newOwner.String()).
		Msg("Ownership transferred")
	return nil
}

// Routes returns the owner entrypoints every contract exposes.
func Routes() runtime.Router {
	return runtime.Router{
		"owner": func(env *runtime.Env, _ json.RawMessage) (any, error) {
			return Owner(env)
		},
		"transfer_ownership": runtime.Bind(func(env *runtime.Env, a TransferOwnershipArgs) (any, error) {
			return nil, TransferOwnership(env, a.Caller, a.NewOwner)
		}),
	}
}
