package core

import "errors"

// Per-transaction precondition failures (§4.6 "sender recovery, intrinsic
// gas, nonce/balance preconditions").
var (
	ErrNonceTooLow     = errors.New("core: nonce too low")
	ErrNonceTooHigh    = errors.New("core: nonce too high")
	ErrInsufficientFunds = errors.New("core: insufficient funds for gas * price + value")
	ErrIntrinsicGas    = errors.New("core: intrinsic gas exceeds gas limit")
	ErrGasLimitReached = errors.New("core: block gas limit reached")
	ErrSenderNoEOA     = errors.New("core: sender is a contract")

	// ErrStateRootMismatch is §4.6's insert_block(check_state_root) failure.
	ErrStateRootMismatch = errors.New("core: computed state root does not match header")
	ErrReceiptRootMismatch = errors.New("core: computed receipt root does not match header")
	ErrGasUsedMismatch   = errors.New("core: computed gas used does not match header")

	ErrUnknownParent = errors.New("core: unknown parent block")
)
