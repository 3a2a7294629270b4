package runtime

import "errors"

// Host errors. Contract errors live in the domain package.
var (
	// ErrContractNotFound is returned when no contract is deployed at an address.
	ErrContractNotFound = errors.New("contract not found")

	// ErrContractExists is returned when deploying to an occupied address.
	ErrContractExists = errors.New("contract already deployed")

	// ErrUnknownKind is returned when deploying a contract kind that was never registered.
	ErrUnknownKind = errors.New("unknown contract kind")

	// ErrWrongContract is returned when a typed client targets a contract of another kind.
	ErrWrongContract = errors.New("wrong contract kind")

	// ErrReentrantCall is returned when a call targets a contract already on the call stack.
	ErrReentrantCall = errors.New("reentrant contract call")

	// ErrCallDepthExceeded is returned when nested calls exceed MaxCallDepth.
	ErrCallDepthExceeded = errors.New("call depth exceeded")

	// ErrInvalidSignature is returned when a transaction signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingSigner is returned for a transaction without signatures.
	ErrMissingSigner = errors.New("transaction has no signer")

	// ErrDuplicateTransaction is returned when a transaction hash was already committed.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrUnknownMethod is returned when a contract has no entrypoint with the given name.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidArgs is returned when call arguments cannot be decoded.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrReadOnly is returned when a query attempts to write state or emit events.
	ErrReadOnly = errors.New("write in read-only context")
)
