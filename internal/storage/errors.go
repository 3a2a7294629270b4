package storage

import "errors"

var (
	// ErrNotFound means the key or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey means an event with the same (sequence, index) was
	// already appended. The event log is append-only.
	ErrDuplicateKey = errors.New("duplicate event position")

	// ErrInvalidInput rejects empty partitions, keys or nil events.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTxDone is returned when a transaction is used after Commit or Rollback.
	ErrTxDone = errors.New("transaction already finished")
)
