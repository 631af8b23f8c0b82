package ledger

import (
	"context"
	"strings"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// accrue computes floor(balance * rateBps * elapsed / (10000 * SecondsPerYear)).
func accrue(balance, rateBps uint64, elapsed int64) (uint64, bool) {
	if balance == 0 || rateBps == 0 || elapsed <= 0 {
		return 0, true
	}
	return mulDiv(balance, rateBps, uint64(elapsed), BpsDenominator*SecondsPerYear)
}

// settleYield materialises pending accrual into AccumulatedYield and moves
// the accrual clock to now. An account whose clock was never started only
// gets its clock started; nothing is backdated.
func settleYield(acct *Account, rateBps uint64, now int64) error {
	if acct.LastYieldUpdate == nil {
		ts := now
		acct.LastYieldUpdate = &ts
		return nil
	}
	elapsed := now - *acct.LastYieldUpdate
	accrued, ok := accrue(acct.Balance, rateBps, elapsed)
	if !ok {
		return ErrAmountOverflow
	}
	if accrued > 0 {
		total, ok := addChecked(acct.AccumulatedYield, accrued)
		if !ok {
			return ErrAmountOverflow
		}
		acct.AccumulatedYield = total
	}
	if now > *acct.LastYieldUpdate {
		ts := now
		acct.LastYieldUpdate = &ts
	}
	return nil
}

// projectYield is the read-only form of settleYield.
func projectYield(acct *Account, rateBps uint64, now int64) (uint64, error) {
	if acct.LastYieldUpdate == nil {
		return acct.AccumulatedYield, nil
	}
	accrued, ok := accrue(acct.Balance, rateBps, now-*acct.LastYieldUpdate)
	if !ok {
		return 0, ErrAmountOverflow
	}
	total, ok := addChecked(acct.AccumulatedYield, accrued)
	if !ok {
		return 0, ErrAmountOverflow
	}
	return total, nil
}

// settle runs settlement on the staged account when the active generation accrues yield.
func (l *Ledger) settle(tx *txn, acct *Account, now int64) error {
	if !schema.Has(l.state.Generation, "accumulatedYield") {
		return nil
	}
	return settleYield(acct, tx.globals.YieldRateBps, now)
}

// SettleYield materialises accrued yield for account at the current time.
// It is idempotent for a fixed clock reading.
func (l *Ledger) SettleYield(ctx context.Context, account string) error {
	if err := l.guard(OpGetUserYield); err != nil {
		return err
	}
	id, err := normalizeIdentity(account)
	if err != nil {
		return err
	}
	if _, ok := l.state.Accounts[id]; !ok {
		return nil
	}
	tx := l.begin()
	if err := l.settle(tx, tx.account(id), l.now()); err != nil {
		return err
	}
	l.commit(ctx, tx)
	return nil
}

// GetUserYield returns the yield account could claim right now, without
// changing state.
func (l *Ledger) GetUserYield(account string) (uint64, error) {
	if err := l.guard(OpGetUserYield); err != nil {
		return 0, err
	}
	acct, ok := l.state.Accounts[strings.TrimSpace(account)]
	if !ok {
		return 0, nil
	}
	return projectYield(acct, l.state.YieldRateBps, l.now())
}

// GetYieldRate returns the annual yield rate in basis points.
func (l *Ledger) GetYieldRate() (uint64, error) {
	if err := l.guard(OpGetYieldRate); err != nil {
		return 0, err
	}
	return l.state.YieldRateBps, nil
}

// ClaimYield pays out the caller's accumulated yield. The zeroing and the
// transfer commit together or not at all.
func (l *Ledger) ClaimYield(ctx context.Context, caller string) (uint64, error) {
	if err := l.guard(OpClaimYield); err != nil {
		return 0, err
	}
	caller, err := normalizeIdentity(caller)
	if err != nil {
		return 0, err
	}

	now := l.now()
	tx := l.begin()
	acct := tx.account(caller)
	if err := l.settle(tx, acct, now); err != nil {
		return 0, err
	}
	amount := acct.AccumulatedYield
	if amount == 0 {
		return 0, ErrNoYield
	}
	acct.AccumulatedYield = 0

	if err := l.asset.TransferOut(ctx, caller, amount); err != nil {
		return 0, transferFailed("out", err)
	}

	tx.emit(events.NewEvent(events.EventYieldClaimed).
		Account(caller).
		Actor(caller).
		Amount(amount).
		At(now).
		Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).WithField("amount", amount).Info("yield claimed")
	return amount, nil
}
