package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/roles"
)

// SetDepositFee updates the deposit fee. Owner only.
func (l *Ledger) SetDepositFee(ctx context.Context, caller string, feeBps uint64) error {
	if err := l.guard(OpSetDepositFee); err != nil {
		return err
	}
	if err := l.requireRole(caller, roles.Owner); err != nil {
		return err
	}
	if feeBps > BpsDenominator {
		return ErrFeeTooHigh
	}
	tx := l.begin()
	previous := tx.globals.DepositFeeBps
	tx.globals.DepositFeeBps = feeBps
	tx.emit(l.adminEvent(events.EventFeeUpdated, caller).
		MetadataUint("previous_bps", previous).
		MetadataUint("bps", feeBps).
		Build())
	l.commit(ctx, tx)
	l.log.WithField("caller", caller).WithField("bps", feeBps).Info("deposit fee updated")
	return nil
}

// SetYieldRate updates the annual yield rate. Every account that already
// has a running accrual clock is settled at the old rate first, so the new
// rate only applies from now on.
func (l *Ledger) SetYieldRate(ctx context.Context, caller string, rateBps uint64) error {
	if err := l.guard(OpSetYieldRate); err != nil {
		return err
	}
	if err := l.requireRole(caller, roles.Owner); err != nil {
		return err
	}
	if rateBps > BpsDenominator {
		return ErrRateTooHigh
	}
	now := l.now()
	tx := l.begin()
	for _, id := range l.state.Identities() {
		acct := l.state.Accounts[id]
		if acct.LastYieldUpdate == nil || acct.Balance == 0 {
			continue
		}
		if err := l.settle(tx, tx.account(id), now); err != nil {
			return err
		}
	}
	previous := tx.globals.YieldRateBps
	tx.globals.YieldRateBps = rateBps
	tx.emit(l.adminEvent(events.EventYieldRateUpdated, caller).
		At(now).
		MetadataUint("previous_bps", previous).
		MetadataUint("bps", rateBps).
		Build())
	l.commit(ctx, tx)
	l.log.WithField("caller", caller).WithField("bps", rateBps).Info("yield rate updated")
	return nil
}

// SetWithdrawalDelay updates the withdrawal delay in seconds. Outstanding
// requests are measured against the new delay.
func (l *Ledger) SetWithdrawalDelay(ctx context.Context, caller string, seconds uint64) error {
	if err := l.guard(OpSetWithdrawalDelay); err != nil {
		return err
	}
	if err := l.requireRole(caller, roles.Owner); err != nil {
		return err
	}
	tx := l.begin()
	previous := tx.globals.WithdrawalDelaySeconds
	tx.globals.WithdrawalDelaySeconds = seconds
	tx.emit(l.adminEvent(events.EventWithdrawalDelayUpdated, caller).
		MetadataUint("previous_seconds", previous).
		MetadataUint("seconds", seconds).
		Build())
	l.commit(ctx, tx)
	l.log.WithField("caller", caller).WithField("seconds", seconds).Info("withdrawal delay updated")
	return nil
}

// PauseDeposits stops new deposits. Owner only.
func (l *Ledger) PauseDeposits(ctx context.Context, caller string) error {
	return l.setPaused(ctx, OpPauseDeposits, caller, true)
}

// UnpauseDeposits resumes deposits. Owner only.
func (l *Ledger) UnpauseDeposits(ctx context.Context, caller string) error {
	return l.setPaused(ctx, OpUnpauseDeposits, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, op Op, caller string, paused bool) error {
	if err := l.guard(op); err != nil {
		return err
	}
	if err := l.requireRole(caller, roles.Owner); err != nil {
		return err
	}
	tx := l.begin()
	tx.globals.DepositsPaused = paused
	typ := events.EventDepositsUnpaused
	if paused {
		typ = events.EventDepositsPaused
	}
	tx.emit(l.adminEvent(typ, caller).Build())
	l.commit(ctx, tx)
	l.log.WithField("caller", caller).WithField("paused", paused).Info("deposit pause toggled")
	return nil
}

// IsPaused reports whether deposits are paused.
func (l *Ledger) IsPaused() (bool, error) {
	if err := l.guard(OpIsPaused); err != nil {
		return false, err
	}
	return l.state.DepositsPaused, nil
}

// GrantRole gives identity permission p. Owner only.
func (l *Ledger) GrantRole(ctx context.Context, caller string, p roles.Permission, identity string) error {
	identity = strings.TrimSpace(identity)
	if err := l.guard(OpGrantRole); err != nil {
		return err
	}
	if !roles.Known(p) {
		return ErrUnknownPermission
	}
	if err := l.state.Roles.Grant(caller, p, identity); err != nil {
		return mapRoleError(err)
	}
	l.events.LogWithContext(ctx, l.adminEvent(events.EventRoleGranted, caller).
		Account(identity).
		Metadata("permission", string(p)).
		Build())
	l.log.WithField("caller", caller).WithField("identity", identity).WithField("permission", p).Info("role granted")
	return nil
}

// RevokeRole removes permission p from identity. Owner only.
func (l *Ledger) RevokeRole(ctx context.Context, caller string, p roles.Permission, identity string) error {
	identity = strings.TrimSpace(identity)
	if err := l.guard(OpRevokeRole); err != nil {
		return err
	}
	if !roles.Known(p) {
		return ErrUnknownPermission
	}
	if err := l.state.Roles.Revoke(caller, p, identity); err != nil {
		return mapRoleError(err)
	}
	l.events.LogWithContext(ctx, l.adminEvent(events.EventRoleRevoked, caller).
		Account(identity).
		Metadata("permission", string(p)).
		Build())
	l.log.WithField("caller", caller).WithField("identity", identity).WithField("permission", p).Info("role revoked")
	return nil
}

func (l *Ledger) adminEvent(typ events.EventType, caller string) *events.EventBuilder {
	return events.NewEvent(typ).Actor(strings.TrimSpace(caller)).At(l.now())
}

func mapRoleError(err error) error {
	switch {
	case errors.Is(err, roles.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, roles.ErrEmptyIdentity):
		return ErrInvalidIdentity
	}
	return err
}
