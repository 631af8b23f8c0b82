package ledger

import (
	"context"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// Deposit pulls amount from caller and credits it less the deposit fee.
// Yield is settled on the existing balance before the credit lands.
func (l *Ledger) Deposit(ctx context.Context, caller string, amount uint64) (uint64, error) {
	if err := l.guard(OpDeposit); err != nil {
		return 0, err
	}
	caller, err := normalizeIdentity(caller)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if schema.Has(l.state.Generation, "depositsPaused") && l.state.DepositsPaused {
		return 0, ErrDepositsPaused
	}

	fee := feeFor(amount, l.state.DepositFeeBps)
	credited := amount - fee

	now := l.now()
	tx := l.begin()
	acct := tx.account(caller)
	if err := l.settle(tx, acct, now); err != nil {
		return 0, err
	}
	balance, ok := addChecked(acct.Balance, credited)
	if !ok {
		return 0, ErrAmountOverflow
	}
	total, ok := addChecked(tx.globals.TotalDeposits, credited)
	if !ok {
		return 0, ErrAmountOverflow
	}

	if err := l.asset.TransferIn(ctx, caller, amount); err != nil {
		return 0, transferFailed("in", err)
	}

	acct.Balance = balance
	tx.globals.TotalDeposits = total
	tx.emit(events.NewEvent(events.EventDeposit).
		Account(caller).
		Actor(caller).
		Amount(credited).
		At(now).
		MetadataUint("gross", amount).
		MetadataUint("fee", fee).
		Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).
		WithField("amount", amount).
		WithField("fee", fee).
		Info("deposit credited")
	return credited, nil
}

// Withdraw is the immediate withdrawal of generations 1 and 2.
func (l *Ledger) Withdraw(ctx context.Context, caller string, amount uint64) error {
	if err := l.guard(OpWithdraw); err != nil {
		return err
	}
	caller, err := normalizeIdentity(caller)
	if err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}

	now := l.now()
	tx := l.begin()
	acct := tx.account(caller)
	if acct.Balance < amount {
		return ErrInsufficientBalance
	}
	if err := l.settle(tx, acct, now); err != nil {
		return err
	}
	acct.Balance -= amount
	tx.globals.TotalDeposits -= amount

	if err := l.asset.TransferOut(ctx, caller, amount); err != nil {
		return transferFailed("out", err)
	}

	tx.emit(events.NewEvent(events.EventWithdraw).
		Account(caller).
		Actor(caller).
		Amount(amount).
		At(now).
		Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).WithField("amount", amount).Info("withdrawal paid")
	return nil
}
