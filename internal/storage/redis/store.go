// Package redis stores the ledger snapshot as one JSON document in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/storage"
)

// DefaultKey is the key used when none is configured.
const DefaultKey = "vault_ledger:snapshot"

// Store implements storage.SnapshotStore on a Redis client.
type Store struct {
	client goredis.UniversalClient
	key    string
}

var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New wraps an existing client. An empty key selects DefaultKey.
func New(client goredis.UniversalClient, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// Dial creates a client for addr and returns a store on it.
func Dial(addr, password string, db int, key string) *Store {
	return New(goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), key)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Load reads and decodes the snapshot.
func (s *Store) Load(ctx context.Context) (*ledger.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return Decode(raw)
}

// Save writes the snapshot document and its metadata hash atomically.
func (s *Store) Save(ctx context.Context, snap *ledger.Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key, raw, 0)
		pipe.HSet(ctx, s.key+":meta",
			"generation", strconv.Itoa(int(snap.Generation)),
			"accounts", strconv.Itoa(len(snap.Accounts)),
			"saved_at", time.Now().UTC().Format(time.RFC3339),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}

// Encode renders a snapshot as JSON.
func Encode(snap *ledger.Snapshot) ([]byte, error) {
	if snap == nil || !snap.Generation.Valid() {
		return nil, ledger.ErrInvalidSnapshot
	}
	return json.Marshal(snap)
}

// Decode parses a JSON snapshot and validates its generation tag.
func Decode(raw []byte) (*ledger.Snapshot, error) {
	var snap ledger.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidSnapshot, err)
	}
	if !snap.Generation.Valid() {
		return nil, fmt.Errorf("%w: generation %d", ledger.ErrInvalidSnapshot, snap.Generation)
	}
	return &snap, nil
}
