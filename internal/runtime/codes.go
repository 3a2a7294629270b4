package runtime

import (
	"errors"

	"ambar-ledger/internal/domain"
)

// ErrorCode is a stable numeric identifier for a contract or host error.
type ErrorCode struct {
	Code int
	Name string
	Err  error
}

// errorCodes is ordered so that wrapping errors (PaymentFailed wraps the
// reference asset failure) classify before the errors they wrap.
var errorCodes = []ErrorCode{
	{10, "PaymentFailed", domain.ErrPaymentFailed},
	{12, "PriceUnavailable", domain.ErrPriceUnavailable},
	{11, "TokenNotConfigured", domain.ErrTokenNotConfigured},
	{1, "AlreadyInitialized", domain.ErrAlreadyInitialized},
	{2, "NotInitialized", domain.ErrNotInitialized},
	{3, "Unauthorized", domain.ErrUnauthorized},
	{4, "NotFound", domain.ErrNotFound},
	{5, "InvalidPrice", domain.ErrInvalidPrice},
	{6, "InvalidAmount", domain.ErrInvalidAmount},
	{7, "InsufficientBalance", domain.ErrInsufficientBalance},
	{8, "ArithmeticOverflow", domain.ErrArithmeticOverflow},
	{9, "ArithmeticError", domain.ErrArithmeticError},
	{13, "InsufficientAllowance", domain.ErrInsufficientAllowance},
	{14, "ReplayedUpdate", domain.ErrReplayedUpdate},

	{100, "ContractNotFound", ErrContractNotFound},
	{101, "ContractExists", ErrContractExists},
	{102, "UnknownKind", ErrUnknownKind},
	{103, "WrongContract", ErrWrongContract},
	{104, "ReentrantCall", ErrReentrantCall},
	{105, "CallDepthExceeded", ErrCallDepthExceeded},
	{106, "InvalidSignature", ErrInvalidSignature},
	{107, "MissingSigner", ErrMissingSigner},
	{108, "DuplicateTransaction", ErrDuplicateTransaction},
	{109, "UnknownMethod", ErrUnknownMethod},
	{110, "InvalidArgs", ErrInvalidArgs},
	{111, "ReadOnly", ErrReadOnly},
}

// Classify returns the code of the first known error in err's chain.
// ok is false for errors the ledger does not define (storage or I/O failures).
func Classify(err error) (code ErrorCode, ok bool) {
	if err == nil {
		return ErrorCode{}, false
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.Err) {
			return c, true
		}
	}
	return ErrorCode{}, false
}

// ErrorByCode returns the sentinel registered under code, or nil.
func ErrorByCode(code int) error {
	for _, c := range errorCodes {
		if c.Code == code {
			return c.Err
		}
	}
	return nil
}

// Outcome labels a transaction result for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if c, ok := Classify(err); ok {
		return c.Name
	}
	return "internal"
}
