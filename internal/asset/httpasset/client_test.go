package httpasset

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

type remote struct {
	mu        sync.Mutex
	transfers []transferRequest
	seen      map[string]bool
	fail5xx   int
}

func (s *remote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.URL.Path == "/health":
		w.Write([]byte(`{"status":"ok"}`))
	case r.URL.Path == "/v1/balances/alice":
		w.Write([]byte(`{"holder":"alice","balance":"1500"}`))
	case r.URL.Path == "/v1/transfers":
		if s.fail5xx > 0 {
			s.fail5xx--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Amount > 1000 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":{"message":"insufficient funds"}}`))
			return
		}
		if !s.seen[req.Reference] {
			s.seen[req.Reference] = true
			s.transfers = append(s.transfers, req)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":      "completed",
			"reference":   req.Reference,
			"transfer_id": "tx-1",
		})
	default:
		http.NotFound(w, r)
	}
}

func newClient(t *testing.T, srv *remote) *Client {
	t.Helper()
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)

	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	c, err := New(Config{BaseURL: server.URL, Vault: "vault", Asset: "TOKEN", MaxRetries: 2}, log)
	require.NoError(t, err)
	return c
}

func TestTransferDirections(t *testing.T) {
	srv := &remote{seen: map[string]bool{}}
	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.TransferIn(ctx, "alice", 100))
	require.NoError(t, c.TransferOut(ctx, "alice", 40))

	require.Len(t, srv.transfers, 2)
	assert.Equal(t, "alice", srv.transfers[0].From)
	assert.Equal(t, "vault", srv.transfers[0].To)
	assert.Equal(t, uint64(100), srv.transfers[0].Amount)
	assert.Equal(t, "vault", srv.transfers[1].From)
	assert.Equal(t, "TOKEN", srv.transfers[1].Asset)
	assert.NotEqual(t, srv.transfers[0].Reference, srv.transfers[1].Reference)
}

func TestTransferRetryIsIdempotent(t *testing.T) {
	srv := &remote{seen: map[string]bool{}, fail5xx: 1}
	c := newClient(t, srv)

	require.NoError(t, c.TransferIn(context.Background(), "alice", 10))
	assert.Len(t, srv.transfers, 1)
}

func TestTransferRejected(t *testing.T) {
	srv := &remote{seen: map[string]bool{}}
	c := newClient(t, srv)

	err := c.TransferIn(context.Background(), "alice", 5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Empty(t, srv.transfers)
}

func TestTransferUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pending","message":"queued"}`))
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Vault: "vault"}, nil)
	require.NoError(t, err)
	err = c.TransferOut(context.Background(), "bob", 1)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "queued")
}

func TestBalanceAndPing(t *testing.T) {
	c := newClient(t, &remote{seen: map[string]bool{}})
	ctx := context.Background()

	balance, err := c.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), balance)
	assert.NoError(t, c.Ping(ctx))

	_, err = c.BalanceOf(ctx, "nobody")
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Vault: "vault"}, nil)
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}
