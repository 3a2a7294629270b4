package domain

import "errors"

// Contract errors. Every failure aborts the enclosing transaction.
var (
	// ErrAlreadyInitialized is returned by a second construct call.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotInitialized is returned by gated entrypoints before construct.
	ErrNotInitialized = errors.New("not initialized")

	// ErrUnauthorized is returned when the caller lacks the required role or proof.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned for a missing price record or registry mapping.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPrice is returned for a non-positive price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidAmount is returned for negative amounts, or a payment too small to mint anything.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when transfer_from exceeds the approved amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrArithmeticOverflow is returned when a balance or supply counter would leave int128 range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrArithmeticError is returned for division by zero.
	ErrArithmeticError = errors.New("arithmetic error")

	// ErrPaymentFailed wraps any failure of the reference asset pull.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrTokenNotConfigured is returned when no token ledger is registered for a symbol.
	ErrTokenNotConfigured = errors.New("token not configured")

	// ErrPriceUnavailable is returned when the registry has no usable price.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrReplayedUpdate is returned when a sequenced price update does not advance the nonce.
	ErrReplayedUpdate = errors.New("replayed price update")
)
