package ledger

import (
	"encoding/json"
	"fmt"
	"math"
)

// WithdrawalStatus is the position of an account in the delayed withdrawal workflow.
type WithdrawalStatus int32

const (
	// WithdrawalNone means the account has no outstanding request.
	WithdrawalNone WithdrawalStatus = iota

	// WithdrawalRequested means a request exists but its delay has not elapsed.
	WithdrawalRequested

	// WithdrawalExecutable means the delay has elapsed and the request may be executed.
	WithdrawalExecutable

	// WithdrawalExecuted is the terminal state of a paid request.
	WithdrawalExecuted

	// WithdrawalEmergency is the terminal state of an emergency bypass.
	WithdrawalEmergency
)

// String returns the string representation of the status.
func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalNone:
		return "none"
	case WithdrawalRequested:
		return "requested"
	case WithdrawalExecutable:
		return "executable"
	case WithdrawalExecuted:
		return "executed"
	case WithdrawalEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("withdrawal(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s WithdrawalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// withdrawalTransitions lists the allowed moves of the workflow. A new
// request supersedes an outstanding one, and the emergency bypass is
// reachable from every live state.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalNone:       {WithdrawalRequested, WithdrawalEmergency},
	WithdrawalRequested:  {WithdrawalRequested, WithdrawalExecutable, WithdrawalEmergency},
	WithdrawalExecutable: {WithdrawalRequested, WithdrawalExecuted, WithdrawalEmergency},
	WithdrawalExecuted:   {WithdrawalNone},
	WithdrawalEmergency:  {WithdrawalNone},
}

// CanTransitionWithdrawal returns true if the move from -> to is allowed.
func CanTransitionWithdrawal(from, to WithdrawalStatus) bool {
	for _, s := range withdrawalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// withdrawalStatus derives the live status of acct at now.
func withdrawalStatus(acct *Account, delay uint64, now int64) WithdrawalStatus {
	if acct == nil || acct.PendingWithdrawal == nil {
		return WithdrawalNone
	}
	if now < readyAt(acct.PendingWithdrawal, delay) {
		return WithdrawalRequested
	}
	return WithdrawalExecutable
}

// readyAt saturates instead of wrapping for very long delays.
func readyAt(req *WithdrawalRequest, delay uint64) int64 {
	if delay > uint64(math.MaxInt64-req.RequestedAt) {
		return math.MaxInt64
	}
	return req.RequestedAt + int64(delay)
}
