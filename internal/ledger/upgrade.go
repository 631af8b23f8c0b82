package ledger

import (
	"context"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

// reinitialize applies the first-time defaults of generation gen. It only
// fills fields that have never been set.
func reinitialize(g *Globals, gen schema.Generation) {
	switch gen {
	case schema.Gen2:
		if g.YieldRateBps == 0 {
			g.YieldRateBps = DefaultYieldRateBps
		}
	case schema.Gen3:
		if g.WithdrawalDelaySeconds == 0 {
			g.WithdrawalDelaySeconds = DefaultWithdrawalDelay
		}
	}
}

// CanAuthorizeUpgrade is the gate an external upgrade mechanism consults
// before swapping logic.
func (l *Ledger) CanAuthorizeUpgrade(caller string) bool {
	return l.state.Roles.HasRole(caller, roles.Upgrader)
}

// Upgrade moves the ledger to target, which must be newer than the active
// generation. Every generation whose initializer has not yet run gets its
// defaults applied exactly once. Stored fields are never moved or rewritten.
func (l *Ledger) Upgrade(ctx context.Context, caller string, target schema.Generation) error {
	if err := l.guard(OpUpgrade); err != nil {
		return err
	}
	if !l.CanAuthorizeUpgrade(caller) {
		return ErrUnauthorized
	}
	from := l.state.Generation
	if !target.Valid() || target <= from {
		return ErrInvalidUpgrade
	}

	tx := l.begin()
	for g := l.state.InitializedVersion + 1; g <= target; g++ {
		reinitialize(&tx.globals, g)
	}
	tx.emit(events.NewEvent(events.EventLedgerUpgraded).
		Actor(caller).
		At(l.now()).
		Metadata("from", from.Version()).
		Metadata("to", target.Version()).
		Build())
	l.state.Generation = target
	if target > l.state.InitializedVersion {
		l.state.InitializedVersion = target
	}
	l.commit(ctx, tx)

	l.log.WithField("caller", caller).
		WithField("from", from.Version()).
		WithField("to", target.Version()).
		Info("ledger upgraded")
	return nil
}
