package ledger

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/R3E-Network/vault_ledger/internal/schema"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, schema.Gen3, 50)
	f.fund(t, "alice", 1000)
	f.fund(t, "bob", 2000)
	f.clock.advance(3600)
	if err := f.l.RequestWithdrawal(ctx, "bob", 700); err != nil {
		t.Fatalf("request: %v", err)
	}

	snap := f.l.Snapshot()
	if snap.Accounts[0].Identity != "alice" || snap.Accounts[1].Identity != "bob" {
		t.Fatalf("accounts not sorted: %+v", snap.Accounts)
	}
	st, err := Restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := st.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}

	clone := snap.Clone()
	clone.Accounts[1].PendingWithdrawal.Amount = 1
	if snap.Accounts[1].PendingWithdrawal.Amount != 700 {
		t.Fatalf("clone shares request memory")
	}
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	cases := []struct {
		name string
		snap *Snapshot
	}{
		{"nil", nil},
		{"unknown generation", &Snapshot{Generation: 9}},
		{"initialized ahead", &Snapshot{Generation: schema.Gen1, InitializedVersion: schema.Gen2}},
		{"missing identity", &Snapshot{Generation: schema.Gen1, Accounts: []AccountRecord{{}}}},
		{"duplicate", &Snapshot{Generation: schema.Gen1, Accounts: []AccountRecord{{Identity: "a"}, {Identity: "a"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Restore(tc.snap); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestSnapshotColumns(t *testing.T) {
	ts := int64(42)
	rec := AccountRecord{Identity: "alice", Account: Account{
		Balance:           10,
		LastYieldUpdate:   &ts,
		AccumulatedYield:  3,
		PendingWithdrawal: &WithdrawalRequest{Amount: 4, RequestedAt: 40},
	}}
	snap := &Snapshot{Generation: schema.Gen3, Asset: "TOKEN", TotalDeposits: 10, DepositsPaused: true, WithdrawalDelaySeconds: 60}

	var back Snapshot
	for _, col := range snap.Columns(schema.TableState) {
		v, ok, err := snap.StateColumn(col)
		if err != nil {
			t.Fatalf("state column %s: %v", col, err)
		}
		if err := back.SetStateColumn(col, v, ok); err != nil {
			t.Fatalf("set state column %s: %v", col, err)
		}
	}
	back.Generation = snap.Generation
	if !reflect.DeepEqual(&back, snap) {
		t.Fatalf("state columns mismatch: %+v vs %+v", back, *snap)
	}

	out := AccountRecord{Identity: "alice"}
	for _, col := range snap.Columns(schema.TableAccounts) {
		v, ok, err := rec.Column(col)
		if err != nil {
			t.Fatalf("account column %s: %v", col, err)
		}
		if err := out.SetColumn(col, v, ok); err != nil {
			t.Fatalf("set account column %s: %v", col, err)
		}
	}
	if !reflect.DeepEqual(out, rec) {
		t.Fatalf("account columns mismatch: %+v vs %+v", out, rec)
	}

	gen1 := &Snapshot{Generation: schema.Gen1}
	if cols := gen1.Columns(schema.TableAccounts); !reflect.DeepEqual(cols, []string{"balance"}) {
		t.Fatalf("gen1 account columns = %v", cols)
	}
	if _, _, err := snap.StateColumn("bogus"); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot for unknown column")
	}
}

func TestInvariantsUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	for _, gen := range []schema.Generation{schema.Gen1, schema.Gen2, schema.Gen3} {
		f := newFixture(t, gen, 75)
		rng := rand.New(rand.NewSource(int64(gen)))
		ids := []string{"alice", "bob", "carol"}
		for _, id := range ids {
			f.asset.Mint(id, 1_000_000)
		}

		for i := 0; i < 400; i++ {
			id := ids[rng.Intn(len(ids))]
			amount := uint64(rng.Intn(5000))
			f.clock.advance(int64(rng.Intn(200_000)))
			if rng.Intn(20) == 0 {
				f.asset.FailNext(nil)
			}
			var err error
			switch rng.Intn(6) {
			case 0, 1:
				_, err = f.l.Deposit(ctx, id, amount)
			case 2:
				if gen == schema.Gen3 {
					err = f.l.RequestWithdrawal(ctx, id, amount)
				} else {
					err = f.l.Withdraw(ctx, id, amount)
				}
			case 3:
				if gen == schema.Gen3 {
					_, err = f.l.ExecuteWithdrawal(ctx, id)
				}
			case 4:
				if gen == schema.Gen3 {
					_, err = f.l.EmergencyWithdraw(ctx, id)
				}
			case 5:
				if gen > schema.Gen1 {
					_, err = f.l.ClaimYield(ctx, id)
				}
			}
			if err != nil && KindOf(err) == "" {
				t.Fatalf("gen %d step %d: untyped error %v", gen, i, err)
			}
			if err := f.l.CheckInvariants(); err != nil {
				t.Fatalf("gen %d step %d: %v", gen, i, err)
			}
		}
	}
}

func TestCheckInvariantsDetectsDrift(t *testing.T) {
	f := newFixture(t, schema.Gen1, 0)
	f.fund(t, "alice", 100)
	f.l.State().TotalDeposits++

	err := f.l.CheckInvariants()
	var inv *InvariantError
	if !errors.As(err, &inv) || len(inv.Violations) != 1 {
		t.Fatalf("expected one violation, got %v", err)
	}
}
