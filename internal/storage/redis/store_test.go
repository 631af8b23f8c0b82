package redis

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/roles"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/internal/storage"
)

func sampleSnapshot() *ledger.Snapshot {
	ts := int64(1700000000)
	return &ledger.Snapshot{
		Generation:             schema.Gen3,
		InitializedVersion:     schema.Gen3,
		Asset:                  "TOKEN",
		TotalDeposits:          1500,
		YieldRateBps:           500,
		WithdrawalDelaySeconds: 604800,
		Accounts: []ledger.AccountRecord{
			{Identity: "alice", Account: ledger.Account{Balance: 1000, LastYieldUpdate: &ts, AccumulatedYield: 3}},
			{Identity: "bob", Account: ledger.Account{Balance: 500, PendingWithdrawal: &ledger.WithdrawalRequest{Amount: 100, RequestedAt: ts}}},
		},
		Roles: map[roles.Permission][]string{roles.Owner: {"admin"}},
	}
}

func TestEncodeDecode(t *testing.T) {
	snap := sampleSnapshot()
	raw, err := Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("decoded mismatch:\n got %+v\nwant %+v", got, snap)
	}
}

func TestDecodeRejectsUnknownGeneration(t *testing.T) {
	if _, err := Decode([]byte(`{"generation":7}`)); !errors.Is(err, ledger.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); !errors.Is(err, ledger.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
	if _, err := Encode(&ledger.Snapshot{}); !errors.Is(err, ledger.ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	store := Dial(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0, "vault_ledger:test:snapshot")
	defer store.Close()

	if err := store.client.Del(ctx, store.key).Err(); err != nil {
		t.Fatalf("reset key: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snap := sampleSnapshot()
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch")
	}
}
