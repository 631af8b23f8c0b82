package service

import (
	"github.com/R3E-Network/vault_ledger/internal/ledger"
)

// Amounts are encoded as decimal strings so 64-bit values survive JSON clients.

// AccountView is the read model of one account. Fields the active generation
// does not expose are omitted.
type AccountView struct {
	Account    string          `json:"account"`
	Balance    uint64          `json:"balance,string"`
	Yield      *uint64         `json:"yield,omitempty,string"`
	Withdrawal *WithdrawalView `json:"withdrawal,omitempty"`
}

// WithdrawalView describes the pending withdrawal of an account.
type WithdrawalView struct {
	Amount      uint64                  `json:"amount,string"`
	RequestedAt int64                   `json:"requested_at"`
	ReadyAt     int64                   `json:"ready_at"`
	Ready       bool                    `json:"ready"`
	Status      ledger.WithdrawalStatus `json:"status"`
}

// LedgerView is the read model of the ledger-wide fields.
type LedgerView struct {
	Version                string   `json:"version"`
	Generation             int      `json:"generation"`
	Asset                  string   `json:"asset"`
	Initialized            bool     `json:"initialized"`
	TotalDeposits          uint64   `json:"total_deposits,string"`
	Accounts               int      `json:"accounts"`
	DepositFeeBps          uint64   `json:"deposit_fee_bps"`
	YieldRateBps           *uint64  `json:"yield_rate_bps,omitempty"`
	WithdrawalDelaySeconds *uint64  `json:"withdrawal_delay_seconds,omitempty"`
	DepositsPaused         *bool    `json:"deposits_paused,omitempty"`
	Operations             []string `json:"operations"`
}
