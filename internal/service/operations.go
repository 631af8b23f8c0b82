package service

import (
	"context"
	"errors"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

func (s *Service) Initialize(ctx context.Context, asset, admin string, depositFeeBps uint64) error {
	return s.mutate(ctx, ledger.OpInitialize, func() error {
		return s.ledger.Initialize(ctx, asset, admin, depositFeeBps)
	})
}

// Deposit returns the net amount credited after the fee.
func (s *Service) Deposit(ctx context.Context, caller string, amount uint64) (credited uint64, err error) {
	err = s.mutate(ctx, ledger.OpDeposit, func() error {
		credited, err = s.ledger.Deposit(ctx, caller, amount)
		return err
	})
	return credited, err
}

func (s *Service) Withdraw(ctx context.Context, caller string, amount uint64) error {
	return s.mutate(ctx, ledger.OpWithdraw, func() error {
		return s.ledger.Withdraw(ctx, caller, amount)
	})
}

func (s *Service) RequestWithdrawal(ctx context.Context, caller string, amount uint64) error {
	return s.mutate(ctx, ledger.OpRequestWithdrawal, func() error {
		return s.ledger.RequestWithdrawal(ctx, caller, amount)
	})
}

func (s *Service) ExecuteWithdrawal(ctx context.Context, caller string) (paid uint64, err error) {
	err = s.mutate(ctx, ledger.OpExecuteWithdrawal, func() error {
		paid, err = s.ledger.ExecuteWithdrawal(ctx, caller)
		return err
	})
	return paid, err
}

func (s *Service) EmergencyWithdraw(ctx context.Context, caller string) (paid uint64, err error) {
	err = s.mutate(ctx, ledger.OpEmergencyWithdraw, func() error {
		paid, err = s.ledger.EmergencyWithdraw(ctx, caller)
		return err
	})
	return paid, err
}

func (s *Service) ClaimYield(ctx context.Context, caller string) (claimed uint64, err error) {
	err = s.mutate(ctx, ledger.OpClaimYield, func() error {
		claimed, err = s.ledger.ClaimYield(ctx, caller)
		return err
	})
	return claimed, err
}

func (s *Service) SetDepositFee(ctx context.Context, caller string, feeBps uint64) error {
	return s.mutate(ctx, ledger.OpSetDepositFee, func() error {
		return s.ledger.SetDepositFee(ctx, caller, feeBps)
	})
}

func (s *Service) SetYieldRate(ctx context.Context, caller string, rateBps uint64) error {
	return s.mutate(ctx, ledger.OpSetYieldRate, func() error {
		return s.ledger.SetYieldRate(ctx, caller, rateBps)
	})
}

func (s *Service) SetWithdrawalDelay(ctx context.Context, caller string, seconds uint64) error {
	return s.mutate(ctx, ledger.OpSetWithdrawalDelay, func() error {
		return s.ledger.SetWithdrawalDelay(ctx, caller, seconds)
	})
}

func (s *Service) PauseDeposits(ctx context.Context, caller string) error {
	return s.mutate(ctx, ledger.OpPauseDeposits, func() error {
		return s.ledger.PauseDeposits(ctx, caller)
	})
}

func (s *Service) UnpauseDeposits(ctx context.Context, caller string) error {
	return s.mutate(ctx, ledger.OpUnpauseDeposits, func() error {
		return s.ledger.UnpauseDeposits(ctx, caller)
	})
}

func (s *Service) GrantRole(ctx context.Context, caller string, p roles.Permission, identity string) error {
	return s.mutate(ctx, ledger.OpGrantRole, func() error {
		return s.ledger.GrantRole(ctx, caller, p, identity)
	})
}

func (s *Service) RevokeRole(ctx context.Context, caller string, p roles.Permission, identity string) error {
	return s.mutate(ctx, ledger.OpRevokeRole, func() error {
		return s.ledger.RevokeRole(ctx, caller, p, identity)
	})
}

// Upgrade moves the ledger to target after the Upgrader check.
func (s *Service) Upgrade(ctx context.Context, caller string, target schema.Generation) error {
	return s.mutate(ctx, ledger.OpUpgrade, func() error {
		return s.ledger.Upgrade(ctx, caller, target)
	})
}

// SettleYield materialises pending yield of account. It is not role gated.
func (s *Service) SettleYield(ctx context.Context, account string) error {
	return s.mutate(ctx, "settleYield", func() error {
		return s.ledger.SettleYield(ctx, account)
	})
}

// CanAuthorizeUpgrade reports whether caller holds the Upgrader permission.
func (s *Service) CanAuthorizeUpgrade(caller string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.CanAuthorizeUpgrade(caller)
}

// Account returns the read model of account.
func (s *Service) Account(account string) (*AccountView, error) {
	var view *AccountView
	err := s.read("getAccount", func() error {
		view = &AccountView{Account: account, Balance: s.ledger.BalanceOf(account)}

		yield, err := s.ledger.GetUserYield(account)
		switch {
		case err == nil:
			view.Yield = &yield
		case !errors.Is(err, ledger.ErrUnsupportedOperation):
			return err
		}

		w, err := s.withdrawalLocked(account)
		if err != nil && !errors.Is(err, ledger.ErrUnsupportedOperation) {
			return err
		}
		view.Withdrawal = w
		return nil
	})
	return view, err
}

// UserYield returns settled plus projected yield of account.
func (s *Service) UserYield(account string) (yield uint64, err error) {
	err = s.read(ledger.OpGetUserYield, func() error {
		yield, err = s.ledger.GetUserYield(account)
		return err
	})
	return yield, err
}

// WithdrawalRequest returns the pending request of account, nil when none.
func (s *Service) WithdrawalRequest(account string) (view *WithdrawalView, err error) {
	err = s.read(ledger.OpGetWithdrawalReq, func() error {
		view, err = s.withdrawalLocked(account)
		return err
	})
	return view, err
}

func (s *Service) withdrawalLocked(account string) (*WithdrawalView, error) {
	amount, requestedAt, ready, err := s.ledger.GetWithdrawalRequest(account)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, nil
	}
	readyAt, _, err := s.ledger.WithdrawalReadyAt(account)
	if err != nil {
		return nil, err
	}
	status, err := s.ledger.WithdrawalStatusOf(account)
	if err != nil {
		return nil, err
	}
	return &WithdrawalView{
		Amount:      amount,
		RequestedAt: requestedAt,
		ReadyAt:     readyAt,
		Ready:       ready,
		Status:      status,
	}, nil
}

// Ledger returns the read model of the ledger-wide fields.
func (s *Service) Ledger() *LedgerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ledger
	view := &LedgerView{
		Version:       l.GetImplementationVersion(),
		Generation:    int(l.Generation()),
		Asset:         l.AssetID(),
		Initialized:   l.State().Initialized(),
		TotalDeposits: l.TotalDeposits(),
		Accounts:      len(l.State().Accounts),
		DepositFeeBps: l.GetDepositFee(),
	}
	if rate, err := l.GetYieldRate(); err == nil {
		view.YieldRateBps = &rate
	}
	if delay, err := l.GetWithdrawalDelay(); err == nil {
		view.WithdrawalDelaySeconds = &delay
	}
	if paused, err := l.IsPaused(); err == nil {
		view.DepositsPaused = &paused
	}
	for _, op := range ledger.Operations(l.Generation()) {
		view.Operations = append(view.Operations, string(op))
	}
	return view
}
