package ledger

import (
	"sort"

	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

const (
	// BpsDenominator is the basis-point scale for fees and rates.
	BpsDenominator = 10_000
	// SecondsPerYear is the accrual year (365 days).
	SecondsPerYear = 365 * 24 * 60 * 60
	// DefaultYieldRateBps is applied when generation 2 is first initialized.
	DefaultYieldRateBps = 500
	// DefaultWithdrawalDelay is applied when generation 3 is first initialized.
	DefaultWithdrawalDelay = 7 * 24 * 60 * 60
)

// WithdrawalRequest is an outstanding delayed withdrawal.
type WithdrawalRequest struct {
	Amount      uint64 `json:"amount"`
	RequestedAt int64  `json:"requested_at"`
}

// Account is the per-identity ledger record.
type Account struct {
	Balance           uint64             `json:"balance"`
	LastYieldUpdate   *int64             `json:"last_yield_update,omitempty"`
	AccumulatedYield  uint64             `json:"accumulated_yield"`
	PendingWithdrawal *WithdrawalRequest `json:"pending_withdrawal,omitempty"`
}

func (a *Account) clone() *Account {
	c := *a
	if a.LastYieldUpdate != nil {
		ts := *a.LastYieldUpdate
		c.LastYieldUpdate = &ts
	}
	if a.PendingWithdrawal != nil {
		req := *a.PendingWithdrawal
		c.PendingWithdrawal = &req
	}
	return &c
}

// Globals holds the ledger-wide scalar fields.
type Globals struct {
	Asset                  string
	TotalDeposits          uint64
	DepositFeeBps          uint64
	YieldRateBps           uint64
	DepositsPaused         bool
	WithdrawalDelaySeconds uint64
}

// State is the single shared ledger state. It is constructed or loaded by the
// caller and handed to New; the ledger never keeps a private copy.
type State struct {
	// Generation is the active logic generation.
	Generation schema.Generation
	// InitializedVersion is the highest generation whose initializer has run.
	InitializedVersion schema.Generation

	Globals
	Accounts map[string]*Account
	Roles    *roles.Registry
}

// NewState returns an empty, uninitialized state running generation g.
func NewState(g schema.Generation) *State {
	return &State{
		Generation: g,
		Accounts:   make(map[string]*Account),
		Roles:      roles.NewRegistry(),
	}
}

// Initialized reports whether Initialize has completed.
func (s *State) Initialized() bool {
	return s.InitializedVersion > 0
}

// Identities returns every known account identity in sorted order.
func (s *State) Identities() []string {
	ids := make([]string, 0, len(s.Accounts))
	for id := range s.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Generation:         s.Generation,
		InitializedVersion: s.InitializedVersion,
		Globals:            s.Globals,
		Accounts:           make(map[string]*Account, len(s.Accounts)),
		Roles:              s.Roles.Clone(),
	}
	for id, acct := range s.Accounts {
		c.Accounts[id] = acct.clone()
	}
	return c
}
