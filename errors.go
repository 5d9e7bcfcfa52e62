package lockbox

import "errors"

// Every guard failure aborts the whole operation and leaves storage
// untouched. Callers decide whether to retry after conditions change.
var (
	ErrInvalidAmount       = errors.New("lockbox: invalid amount")
	ErrAlreadyExists       = errors.New("lockbox: already exists")
	ErrNotFound            = errors.New("lockbox: not found")
	ErrAlreadyFinalized    = errors.New("lockbox: already finalized")
	ErrNotRecipient        = errors.New("lockbox: not the recipient")
	ErrInvalidProof        = errors.New("lockbox: invalid proof")
	ErrExpired             = errors.New("lockbox: expired")
	ErrNotYetExpired       = errors.New("lockbox: not yet expired")
	ErrPriceStale          = errors.New("lockbox: price stale")
	ErrArithmeticFault     = errors.New("lockbox: arithmetic fault")
	ErrAuthorizationFailed = errors.New("lockbox: authorization failed")
	ErrTransferFailed      = errors.New("lockbox: transfer failed")
)
