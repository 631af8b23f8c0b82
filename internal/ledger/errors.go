package ledger

import (
	"errors"
	"fmt"
)

// Kind groups ledger failures by their cause.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindExternal      Kind = "external"
)

// Error is a typed ledger failure. Every failed operation surfaces one of
// the sentinel values below, possibly wrapped.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidAmount        = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrFeeTooHigh           = newError(KindValidation, "fee_too_high", "deposit fee exceeds 10000 bps")
	ErrRateTooHigh          = newError(KindValidation, "rate_too_high", "yield rate exceeds 10000 bps")
	ErrAmountOverflow       = newError(KindValidation, "amount_overflow", "amount overflows ledger capacity")
	ErrInvalidIdentity      = newError(KindValidation, "invalid_identity", "identity is required")
	ErrInvalidUpgrade       = newError(KindValidation, "invalid_upgrade", "target generation must be newer than the active one")
	ErrUnknownPermission    = newError(KindValidation, "unknown_permission", "unknown permission")
	ErrInvalidSnapshot      = newError(KindValidation, "invalid_snapshot", "snapshot does not match a known layout")
	ErrUnauthorized         = newError(KindAuthorization, "unauthorized", "caller lacks the required permission")
	ErrNotInitialized       = newError(KindState, "not_initialized", "ledger is not initialized")
	ErrAlreadyInitialized   = newError(KindState, "already_initialized", "ledger is already initialized")
	ErrUnsupportedOperation = newError(KindState, "unsupported_operation", "operation is not available in the active generation")
	ErrInsufficientBalance  = newError(KindState, "insufficient_balance", "insufficient balance")
	ErrNoPendingRequest     = newError(KindState, "no_pending_request", "no pending withdrawal request")
	ErrDelayNotElapsed      = newError(KindState, "delay_not_elapsed", "withdrawal delay has not elapsed")
	ErrNoYield              = newError(KindState, "no_yield", "no yield to claim")
	ErrDepositsPaused       = newError(KindState, "deposits_paused", "deposits are paused")
	ErrNoBalance            = newError(KindState, "no_balance", "account has no balance")
	ErrTransferFailed       = newError(KindExternal, "transfer_failed", "asset transfer failed")
)

// KindOf returns the kind of a ledger error, or "" for foreign errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// CodeOf returns the stable code of a ledger error, or "" for foreign errors.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

func transferFailed(direction string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, direction, err)
}
