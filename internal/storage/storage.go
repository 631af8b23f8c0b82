// Package storage persists ledger snapshots.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStore persists the full ledger state as one snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (*ledger.Snapshot, error)
	Save(ctx context.Context, snap *ledger.Snapshot) error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}
