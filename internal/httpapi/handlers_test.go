package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assetmem "github.com/R3E-Network/vault_ledger/internal/asset/memory"
	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/httputil"
	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/metrics"
	"github.com/R3E-Network/vault_ledger/internal/middleware"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/internal/service"
	storemem "github.com/R3E-Network/vault_ledger/internal/storage/memory"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

const t0 int64 = 1_700_000_000

type testAPI struct {
	handler http.Handler
	asset   *assetmem.Asset
	events  *events.RingBuffer
	now     atomic.Int64
}

func quietLogger() *logger.Logger {
	log := logger.NewDefault("httpapi-test")
	log.SetOutput(io.Discard)
	return log
}

func newTestAPI(t *testing.T, gen schema.Generation, secret []byte) *testAPI {
	t.Helper()
	api := &testAPI{asset: assetmem.New(), events: events.NewRingBuffer(256)}
	api.now.Store(t0)

	l := ledger.New(ledger.NewState(gen), ledger.Options{
		Asset:  api.asset,
		Clock:  ledger.ClockFunc(func() int64 { return api.now.Load() }),
		Events: api.events,
		Logger: quietLogger(),
	})
	m := metrics.New("test")
	svc := service.New(l, service.Options{Store: storemem.New(), Metrics: m, Events: api.events, Logger: quietLogger()})
	api.handler = NewHandler(svc, Options{
		JWTSecret:   secret,
		RateLimiter: middleware.NewRateLimiter(1000, 1000, quietLogger()),
		Metrics:     m,
		Logger:      quietLogger(),
		StreamPing:  time.Second,
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path, caller string, body interface{}) (*httptest.ResponseRecorder, httputil.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set(middleware.CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var resp httputil.APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (a *testAPI) initialize(t *testing.T, fee uint64) {
	t.Helper()
	rec, _ := a.do(t, http.MethodPost, "/v1/initialize", "admin", map[string]interface{}{
		"asset": "TOKEN", "admin": "admin", "deposit_fee_bps": fee,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func data(t *testing.T, resp httputil.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "unexpected data %#v", resp.Data)
	return m
}

func TestDelayedWithdrawalFlow(t *testing.T) {
	api := newTestAPI(t, schema.Gen3, nil)
	api.initialize(t, 100)
	api.asset.Mint("alice", 1000)

	rec, resp := api.do(t, http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "990", data(t, resp)["credited"])

	rec, resp = api.do(t, http.MethodPost, "/v1/withdrawals/request", "alice", map[string]uint64{"amount": 500})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "requested", data(t, resp)["status"])

	rec, resp = api.do(t, http.MethodPost, "/v1/withdrawals/execute", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "delay_not_elapsed", resp.Code)

	api.now.Store(t0 + ledger.DefaultWithdrawalDelay)
	rec, resp = api.do(t, http.MethodPost, "/v1/withdrawals/execute", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "500", data(t, resp)["paid"])

	rec, resp = api.do(t, http.MethodGet, "/v1/accounts/alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := data(t, resp)
	assert.Equal(t, "490", acct["balance"])
	assert.Nil(t, acct["withdrawal"])
	assert.Equal(t, uint64(500), api.asset.BalanceOf("alice"))

	rec, resp = api.do(t, http.MethodGet, "/v1/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.0", data(t, resp)["version"])
	assert.Equal(t, "490", data(t, resp)["total_deposits"])
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, schema.Gen2, nil)
	api.initialize(t, 0)

	cases := []struct {
		name   string
		method string
		path   string
		caller string
		body   interface{}
		status int
		code   string
	}{
		{"zero amount", http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "0"}, http.StatusBadRequest, "invalid_amount"},
		{"malformed amount", http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "-1"}, http.StatusBadRequest, "bad_request"},
		{"no caller", http.MethodPost, "/v1/deposit", "", map[string]string{"amount": "1"}, http.StatusUnauthorized, "unauthenticated"},
		{"not owner", http.MethodPut, "/v1/admin/fee", "alice", map[string]string{"value": "10"}, http.StatusForbidden, "unauthorized"},
		{"fee too high", http.MethodPut, "/v1/admin/fee", "admin", map[string]string{"value": "10001"}, http.StatusBadRequest, "fee_too_high"},
		{"no funds", http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "5"}, http.StatusBadGateway, "transfer_failed"},
		{"unsupported in gen2", http.MethodPost, "/v1/withdrawals/request", "alice", map[string]string{"amount": "5"}, http.StatusConflict, "unsupported_operation"},
		{"unknown permission", http.MethodPost, "/v1/admin/roles/root/bob", "admin", nil, http.StatusBadRequest, "unknown_permission"},
		{"already initialized", http.MethodPost, "/v1/initialize", "admin", map[string]string{"asset": "X", "admin": "admin"}, http.StatusConflict, "already_initialized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := api.do(t, tc.method, tc.path, tc.caller, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, resp.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	api := newTestAPI(t, schema.Gen1, nil)
	api.initialize(t, 0)

	rec, _ := api.do(t, http.MethodPost, "/v1/admin/roles/owner/ops", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = api.do(t, http.MethodPut, "/v1/admin/fee", "ops", map[string]int{"value": 250})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = api.do(t, http.MethodPost, "/v1/admin/upgrade", "admin", map[string]int{"generation": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = api.do(t, http.MethodPost, "/v1/admin/pause", "ops", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	api.asset.Mint("alice", 10)
	rec, resp := api.do(t, http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "deposits_paused", resp.Code)

	rec, _ = api.do(t, http.MethodDelete, "/v1/admin/roles/owner/ops", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = api.do(t, http.MethodPost, "/v1/admin/unpause", "ops", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp = api.do(t, http.MethodGet, "/v1/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lv := data(t, resp)
	assert.Equal(t, "2.0.0", lv["version"])
	assert.Equal(t, float64(250), lv["deposit_fee_bps"])
	assert.Equal(t, true, lv["deposits_paused"])
	assert.Equal(t, float64(ledger.DefaultYieldRateBps), lv["yield_rate_bps"])
}

func TestUpgradeRejectsOutOfRangeGeneration(t *testing.T) {
	api := newTestAPI(t, schema.Gen1, nil)
	api.initialize(t, 0)

	for _, body := range []interface{}{
		map[string]int{"generation": 259},
		map[string]int{"generation": -253},
		map[string]int{"generation": 0},
		map[string]string{"generation": "gen9"},
		map[string]string{},
	} {
		rec, resp := api.do(t, http.MethodPost, "/v1/admin/upgrade", "admin", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %v", body)
		assert.Equal(t, "bad_request", resp.Code)
	}

	rec, resp := api.do(t, http.MethodGet, "/v1/ledger", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lv := data(t, resp)
	assert.Equal(t, "1.0.0", lv["version"])
	assert.Nil(t, lv["withdrawal_delay_seconds"])

	rec, resp = api.do(t, http.MethodPost, "/v1/admin/upgrade", "admin", map[string]string{"generation": "gen2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2.0.0", data(t, resp)["version"])
}

func TestRolePermissionIsCaseInsensitive(t *testing.T) {
	api := newTestAPI(t, schema.Gen1, nil)
	api.initialize(t, 0)

	rec, resp := api.do(t, http.MethodPost, "/v1/admin/roles/Owner/ops", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "owner", data(t, resp)["permission"])

	rec, _ = api.do(t, http.MethodPut, "/v1/admin/fee", "ops", map[string]int{"value": 10})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEventsEndpoint(t *testing.T) {
	api := newTestAPI(t, schema.Gen2, nil)
	api.initialize(t, 0)
	api.asset.Mint("alice", 100)
	api.asset.Mint("bob", 100)
	api.do(t, http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "100"})
	api.do(t, http.MethodPost, "/v1/deposit", "bob", map[string]string{"amount": "100"})

	rec, resp := api.do(t, http.MethodGet, "/v1/events?account=bob", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "deposit", list[0].(map[string]interface{})["type"])

	rec, resp = api.do(t, http.MethodGet, "/v1/events?type=ledger.initialized", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]interface{}), 1)

	rec, _ = api.do(t, http.MethodGet, "/v1/events?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDReachesEvents(t *testing.T) {
	api := newTestAPI(t, schema.Gen1, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/initialize", strings.NewReader(`{"asset":"TOKEN","admin":"admin"}`))
	req.Header.Set(middleware.CallerHeader, "admin")
	req.Header.Set(httputil.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	evs := api.events.RecentByType(events.EventLedgerInitialized, 1)
	require.Len(t, evs, 1)
	assert.Equal(t, "req-42", evs[0].RequestID)
}

func TestJWTAuth(t *testing.T) {
	secret := []byte("s3cret")
	api := newTestAPI(t, schema.Gen1, secret)

	token, err := middleware.GenerateToken(secret, "admin", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/initialize", strings.NewReader(`{"asset":"TOKEN","admin":"admin"}`))
	req.Header.Set(middleware.CallerHeader, "admin")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "header identity is ignored when auth is on")

	req = httptest.NewRequest(http.MethodPost, "/v1/initialize", strings.NewReader(`{"asset":"TOKEN","admin":"admin"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t, schema.Gen2, nil)
	api.initialize(t, 0)
	server := httptest.NewServer(api.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/stream?account=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	api.asset.Mint("alice", 50)
	api.asset.Mint("bob", 50)
	rec, _ := api.do(t, http.MethodPost, "/v1/deposit", "bob", map[string]string{"amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/v1/deposit", "alice", map[string]string{"amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.EventDeposit, e.Type)
	assert.Equal(t, "alice", e.Account)
	assert.Equal(t, uint64(50), e.Amount)
}
