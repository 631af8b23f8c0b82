// Package memory is an in-process transferable-asset ledger. It backs dev
// mode and tests, and can be told to refuse transfers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a holder or the vault cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRefused is the default injected failure.
	ErrRefused = errors.New("transfer refused")
)

// Asset holds token balances for holders plus the vault's custody balance.
type Asset struct {
	mu       sync.Mutex
	holders  map[string]uint64
	vault    uint64
	failNext error
	failAll  error
	ins      int
	outs     int
}

// New returns an empty asset ledger.
func New() *Asset {
	return &Asset{holders: make(map[string]uint64)}
}

// Mint credits holder with amount outside the vault.
func (a *Asset) Mint(holder string, amount uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holders[holder] += amount
}

// BalanceOf returns the holder's token balance.
func (a *Asset) BalanceOf(holder string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holders[holder]
}

// Vault returns the amount held in custody by the vault.
func (a *Asset) Vault() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vault
}

// FailNext makes the next transfer fail with err (ErrRefused when nil).
func (a *Asset) FailNext(err error) {
	if err == nil {
		err = ErrRefused
	}
	a.mu.Lock()
	a.failNext = err
	a.mu.Unlock()
}

// FailAll makes every transfer fail with err until cleared with FailAll(nil).
func (a *Asset) FailAll(err error) {
	a.mu.Lock()
	a.failAll = err
	a.mu.Unlock()
}

// Transfers returns the number of successful inbound and outbound transfers.
func (a *Asset) Transfers() (in, out int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ins, a.outs
}

// TransferIn moves amount from holder into the vault.
func (a *Asset) TransferIn(ctx context.Context, from string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.injected(); err != nil {
		return err
	}
	if a.holders[from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, a.holders[from], amount)
	}
	a.holders[from] -= amount
	a.vault += amount
	a.ins++
	return nil
}

// TransferOut moves amount from the vault to holder.
func (a *Asset) TransferOut(ctx context.Context, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.injected(); err != nil {
		return err
	}
	if a.vault < amount {
		return fmt.Errorf("%w: vault holds %d, needs %d", ErrInsufficientFunds, a.vault, amount)
	}
	a.vault -= amount
	a.holders[to] += amount
	a.outs++
	return nil
}

func (a *Asset) injected() error {
	if a.failAll != nil {
		return a.failAll
	}
	if err := a.failNext; err != nil {
		a.failNext = nil
		return err
	}
	return nil
}
