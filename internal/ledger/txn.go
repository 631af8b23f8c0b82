package ledger

import (
	"context"

	"github.com/R3E-Network/vault_ledger/internal/events"
)

// txn stages every mutation of one operation. Nothing reaches the shared
// state until commit, so an operation that returns early (a failed check, a
// failed role lookup, a refused transfer) leaves the state untouched.
type txn struct {
	state    *State
	globals  Globals
	accounts map[string]*Account
	emitted  []events.Event
}

func (l *Ledger) begin() *txn {
	return &txn{
		state:    l.state,
		globals:  l.state.Globals,
		accounts: make(map[string]*Account),
	}
}

// account returns the staged copy of id, creating a zero account if none exists.
func (t *txn) account(id string) *Account {
	if acct, ok := t.accounts[id]; ok {
		return acct
	}
	var acct *Account
	if existing, ok := t.state.Accounts[id]; ok {
		acct = existing.clone()
	} else {
		acct = &Account{}
	}
	t.accounts[id] = acct
	return acct
}

func (t *txn) emit(e events.Event) {
	t.emitted = append(t.emitted, e)
}

// commit publishes the staged changes and then the buffered events.
func (l *Ledger) commit(ctx context.Context, t *txn) {
	l.state.Globals = t.globals
	for id, acct := range t.accounts {
		l.state.Accounts[id] = acct
	}
	for _, e := range t.emitted {
		l.events.LogWithContext(ctx, e)
	}
}
