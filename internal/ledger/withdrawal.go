package ledger

import (
	"context"
	"strings"

	"github.com/R3E-Network/vault_ledger/internal/events"
)

// RequestWithdrawal records a delayed withdrawal of amount for caller. A new
// request replaces any outstanding one. The balance is not touched.
func (l *Ledger) RequestWithdrawal(ctx context.Context, caller string, amount uint64) error {
	if err := l.guard(OpRequestWithdrawal); err != nil {
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

	superseded := acct.PendingWithdrawal
	acct.PendingWithdrawal = &WithdrawalRequest{Amount: amount, RequestedAt: now}

	b := events.NewEvent(events.EventWithdrawalRequested).
		Account(caller).
		Actor(caller).
		Amount(amount).
		At(now).
		Metadata("ready_at", formatInt(readyAt(acct.PendingWithdrawal, tx.globals.WithdrawalDelaySeconds)))
	if superseded != nil {
		b = b.MetadataUint("superseded_amount", superseded.Amount)
	}
	tx.emit(b.Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).WithField("amount", amount).Info("withdrawal requested")
	return nil
}

// ExecuteWithdrawal pays out caller's request once its delay has elapsed.
// The request is only cleared if the transfer succeeds.
func (l *Ledger) ExecuteWithdrawal(ctx context.Context, caller string) (uint64, error) {
	if err := l.guard(OpExecuteWithdrawal); err != nil {
		return 0, err
	}
	caller, err := normalizeIdentity(caller)
	if err != nil {
		return 0, err
	}

	now := l.now()
	tx := l.begin()
	acct := tx.account(caller)
	status := withdrawalStatus(acct, tx.globals.WithdrawalDelaySeconds, now)
	switch status {
	case WithdrawalNone:
		return 0, ErrNoPendingRequest
	case WithdrawalRequested:
		return 0, ErrDelayNotElapsed
	}
	if !CanTransitionWithdrawal(status, WithdrawalExecuted) {
		return 0, ErrNoPendingRequest
	}

	amount := acct.PendingWithdrawal.Amount
	if err := l.settle(tx, acct, now); err != nil {
		return 0, err
	}
	if acct.Balance < amount {
		return 0, ErrInsufficientBalance
	}
	requestedAt := acct.PendingWithdrawal.RequestedAt
	acct.PendingWithdrawal = nil
	acct.Balance -= amount
	tx.globals.TotalDeposits -= amount

	if err := l.asset.TransferOut(ctx, caller, amount); err != nil {
		return 0, transferFailed("out", err)
	}

	tx.emit(events.NewEvent(events.EventWithdrawalExecuted).
		Account(caller).
		Actor(caller).
		Amount(amount).
		At(now).
		Metadata("requested_at", formatInt(requestedAt)).
		Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).WithField("amount", amount).Info("withdrawal executed")
	return amount, nil
}

// EmergencyWithdraw pays out caller's whole balance immediately, cancelling
// any request and forfeiting materialised yield. Accrual since the last
// settlement is not materialised; it is reported on the event and dropped.
func (l *Ledger) EmergencyWithdraw(ctx context.Context, caller string) (uint64, error) {
	if err := l.guard(OpEmergencyWithdraw); err != nil {
		return 0, err
	}
	caller, err := normalizeIdentity(caller)
	if err != nil {
		return 0, err
	}

	now := l.now()
	tx := l.begin()
	acct := tx.account(caller)
	if acct.Balance == 0 {
		return 0, ErrNoBalance
	}

	unsettled, err := projectYield(acct, tx.globals.YieldRateBps, now)
	if err != nil {
		unsettled = acct.AccumulatedYield
	}
	unsettled -= acct.AccumulatedYield

	amount := acct.Balance
	forfeited := acct.AccumulatedYield
	cancelled := acct.PendingWithdrawal
	acct.Balance = 0
	acct.AccumulatedYield = 0
	acct.PendingWithdrawal = nil
	if acct.LastYieldUpdate != nil && now > *acct.LastYieldUpdate {
		ts := now
		acct.LastYieldUpdate = &ts
	}
	tx.globals.TotalDeposits -= amount

	if err := l.asset.TransferOut(ctx, caller, amount); err != nil {
		return 0, transferFailed("out", err)
	}

	b := events.NewEvent(events.EventEmergencyWithdrawal).
		Account(caller).
		Actor(caller).
		Amount(amount).
		At(now).
		MetadataUint("forfeited_yield", forfeited).
		MetadataUint("unsettled_yield", unsettled)
	if cancelled != nil {
		b = b.MetadataUint("cancelled_request", cancelled.Amount)
	}
	tx.emit(b.Build())
	l.commit(ctx, tx)

	l.log.WithField("account", caller).
		WithField("amount", amount).
		WithField("forfeited_yield", forfeited).
		Warn("emergency withdrawal")
	return amount, nil
}

// GetWithdrawalRequest returns the outstanding request of account and
// whether it can be executed now. A missing request reads as zeroes.
func (l *Ledger) GetWithdrawalRequest(account string) (amount uint64, requestedAt int64, ready bool, err error) {
	if err := l.guard(OpGetWithdrawalReq); err != nil {
		return 0, 0, false, err
	}
	acct := l.state.Accounts[strings.TrimSpace(account)]
	if acct == nil || acct.PendingWithdrawal == nil {
		return 0, 0, false, nil
	}
	status := withdrawalStatus(acct, l.state.WithdrawalDelaySeconds, l.now())
	req := acct.PendingWithdrawal
	return req.Amount, req.RequestedAt, status == WithdrawalExecutable, nil
}

// WithdrawalStatusOf returns the workflow status of account.
func (l *Ledger) WithdrawalStatusOf(account string) (WithdrawalStatus, error) {
	if err := l.guard(OpGetWithdrawalReq); err != nil {
		return WithdrawalNone, err
	}
	acct := l.state.Accounts[strings.TrimSpace(account)]
	return withdrawalStatus(acct, l.state.WithdrawalDelaySeconds, l.now()), nil
}

// GetWithdrawalDelay returns the withdrawal delay in seconds.
func (l *Ledger) GetWithdrawalDelay() (uint64, error) {
	if err := l.guard(OpGetWithdrawalDelay); err != nil {
		return 0, err
	}
	return l.state.WithdrawalDelaySeconds, nil
}

// WithdrawalReadyAt returns the unix time at which the pending request of
// account becomes executable. ok is false when there is no request.
func (l *Ledger) WithdrawalReadyAt(account string) (at int64, ok bool, err error) {
	if err := l.guard(OpGetWithdrawalReq); err != nil {
		return 0, false, err
	}
	acct := l.state.Accounts[strings.TrimSpace(account)]
	if acct == nil || acct.PendingWithdrawal == nil {
		return 0, false, nil
	}
	return readyAt(acct.PendingWithdrawal, l.state.WithdrawalDelaySeconds), true, nil
}
