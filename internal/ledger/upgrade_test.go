package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
)

func TestUpgradePreservesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.Gen1, 100)
	f.fund(t, "alice", 1000)
	f.fund(t, "bob", 500)
	before := f.l.Snapshot()

	if f.l.CanAuthorizeUpgrade("alice") {
		t.Fatalf("alice must not authorize upgrades")
	}
	if !f.l.CanAuthorizeUpgrade("admin") {
		t.Fatalf("admin should authorize upgrades")
	}
	if err := f.l.Upgrade(ctx, "alice", schema.Gen2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := f.l.Upgrade(ctx, "admin", schema.Gen2); err != nil {
		t.Fatalf("upgrade to gen2: %v", err)
	}
	if got := f.l.GetImplementationVersion(); got != "2.0.0" {
		t.Fatalf("version = %q", got)
	}
	if rate, _ := f.l.GetYieldRate(); rate != DefaultYieldRateBps {
		t.Fatalf("gen2 default rate = %d", rate)
	}
	assertGen1Fields(t, before, f.l.Snapshot())

	if err := f.l.Upgrade(ctx, "admin", schema.Gen2); !errors.Is(err, ErrInvalidUpgrade) {
		t.Fatalf("same generation: expected ErrInvalidUpgrade, got %v", err)
	}
	if err := f.l.Upgrade(ctx, "admin", schema.Gen1); !errors.Is(err, ErrInvalidUpgrade) {
		t.Fatalf("downgrade: expected ErrInvalidUpgrade, got %v", err)
	}

	if err := f.l.SetYieldRate(ctx, "admin", 700); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := f.l.Upgrade(ctx, "admin", schema.Gen3); err != nil {
		t.Fatalf("upgrade to gen3: %v", err)
	}
	if rate, _ := f.l.GetYieldRate(); rate != 700 {
		t.Fatalf("gen3 upgrade overwrote rate: %d", rate)
	}
	if delay, _ := f.l.GetWithdrawalDelay(); delay != DefaultWithdrawalDelay {
		t.Fatalf("gen3 default delay = %d", delay)
	}
	assertGen1Fields(t, before, f.l.Snapshot())

	if err := f.l.Withdraw(ctx, "alice", 1); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("gen3 withdraw: expected ErrUnsupportedOperation, got %v", err)
	}
	if got := f.events.RecentByType(events.EventLedgerUpgraded, 5); len(got) != 2 {
		t.Fatalf("expected two upgrade events, got %d", len(got))
	}
	if err := f.l.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func assertGen1Fields(t *testing.T, before, after *Snapshot) {
	t.Helper()
	if after.Asset != before.Asset || after.TotalDeposits != before.TotalDeposits || after.DepositFeeBps != before.DepositFeeBps {
		t.Fatalf("gen1 globals changed: before %+v after %+v", before, after)
	}
	if len(after.Accounts) != len(before.Accounts) {
		t.Fatalf("account count changed")
	}
	for i := range before.Accounts {
		if after.Accounts[i].Identity != before.Accounts[i].Identity || after.Accounts[i].Balance != before.Accounts[i].Balance {
			t.Fatalf("account %d changed: %+v -> %+v", i, before.Accounts[i], after.Accounts[i])
		}
	}
}

func TestUpgradeDoesNotBackdateYield(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.Gen1, 0)
	f.fund(t, "alice", 1000)
	f.clock.advance(SecondsPerYear)

	if err := f.l.Upgrade(ctx, "admin", schema.Gen2); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if got, _ := f.l.GetUserYield("alice"); got != 0 {
		t.Fatalf("yield before clock start = %d, want 0", got)
	}
	if err := f.l.SettleYield(ctx, "alice"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	f.clock.advance(SecondsPerYear)
	if got, _ := f.l.GetUserYield("alice"); got != 50 {
		t.Fatalf("yield = %d, want 50", got)
	}
}

func TestUpgradeNeverOverwritesExistingValues(t *testing.T) {
	ctx := context.Background()
	// a gen2 state that already carries a delay and an explicit zero rate
	snap := &Snapshot{
		Generation:             schema.Gen2,
		InitializedVersion:     schema.Gen2,
		Asset:                  "TOKEN",
		YieldRateBps:           0,
		WithdrawalDelaySeconds: 3600,
		Roles:                  map[roles.Permission][]string{roles.Owner: {"admin"}, roles.Upgrader: {"admin"}},
	}
	st, err := Restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	f := newUninitialized(schema.Gen2)
	f.l = New(st, Options{Asset: f.asset, Clock: f.clock, Events: f.events, Logger: quietLogger()})

	if err := f.l.Upgrade(ctx, "admin", schema.Gen3); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if rate, _ := f.l.GetYieldRate(); rate != 0 {
		t.Fatalf("gen2 initializer re-ran, rate = %d", rate)
	}
	if delay, _ := f.l.GetWithdrawalDelay(); delay != 3600 {
		t.Fatalf("existing delay overwritten: %d", delay)
	}
	if st.InitializedVersion != schema.Gen3 {
		t.Fatalf("initialized version = %d", st.InitializedVersion)
	}
}

func TestUpgradeSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.Gen1, 0)
	if err := f.l.Upgrade(ctx, "admin", schema.Gen3); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	rate, _ := f.l.GetYieldRate()
	delay, _ := f.l.GetWithdrawalDelay()
	if rate != DefaultYieldRateBps || delay != DefaultWithdrawalDelay {
		t.Fatalf("defaults not applied: rate %d delay %d", rate, delay)
	}
}
