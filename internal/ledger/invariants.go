package ledger

import (
	"fmt"
	"strings"

	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// InvariantError lists every structural violation found by CheckInvariants.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	return "ledger invariants violated: " + strings.Join(e.Violations, "; ")
}

// CheckInvariants verifies that total deposits equal the sum of balances
// and that pending withdrawal requests are well formed.
func (s *State) CheckInvariants() error {
	var (
		sum        uint64
		overflow   bool
		violations []string
	)
	for _, id := range s.Identities() {
		acct := s.Accounts[id]
		next, ok := addChecked(sum, acct.Balance)
		if !ok {
			overflow = true
		}
		sum = next
		if req := acct.PendingWithdrawal; req != nil && req.Amount == 0 {
			violations = append(violations, fmt.Sprintf("account %s has an empty withdrawal request", id))
		}
		if acct.LastYieldUpdate == nil && acct.AccumulatedYield > 0 && schema.Has(s.Generation, "lastYieldUpdate") {
			violations = append(violations, fmt.Sprintf("account %s holds yield without an accrual clock", id))
		}
	}
	switch {
	case overflow:
		violations = append(violations, "sum of balances overflows")
	case sum != s.TotalDeposits:
		violations = append(violations, fmt.Sprintf("total deposits %d != sum of balances %d", s.TotalDeposits, sum))
	}
	if s.DepositFeeBps > BpsDenominator {
		violations = append(violations, fmt.Sprintf("deposit fee %d bps out of range", s.DepositFeeBps))
	}
	if s.YieldRateBps > BpsDenominator {
		violations = append(violations, fmt.Sprintf("yield rate %d bps out of range", s.YieldRateBps))
	}
	if len(violations) > 0 {
		return &InvariantError{Violations: violations}
	}
	return nil
}

// CheckInvariants verifies the ledger's state.
func (l *Ledger) CheckInvariants() error {
	return l.state.CheckInvariants()
}
