package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/httputil"
	"github.com/R3E-Network/vault_ledger/internal/metrics"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

var secret = []byte("test-secret")

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(CallerFrom(r.Context())))
	})
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthMiddleware(secret, quietLogger(), []string{"/health"})
	handler := auth.Handler(echoCaller())

	valid, err := GenerateToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(secret, "alice", -time.Hour)
	require.NoError(t, err)
	foreign, err := GenerateToken([]byte("other"), "alice", time.Hour)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"valid", "/v1/deposit", "Bearer " + valid, http.StatusOK, "alice"},
		{"skip path", "/health", "", http.StatusOK, ""},
		{"missing header", "/v1/deposit", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/v1/deposit", "Basic " + valid, http.StatusUnauthorized, ""},
		{"expired", "/v1/deposit", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"foreign key", "/v1/deposit", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"empty user", "/v1/deposit", "Bearer " + noUser, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestAuthRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "mallory"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	NewAuthMiddleware(secret, quietLogger(), nil).Handler(echoCaller()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeaderIdentityAndRequireCaller(t *testing.T) {
	handler := HeaderIdentity(RequireCaller(echoCaller()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CallerHeader, " bob ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "bob", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiterKeysOnVerifiedCaller(t *testing.T) {
	rl := NewRateLimiter(1, 2, quietLogger())
	handler := NewAuthMiddleware(secret, quietLogger(), nil).Handler(rl.Handler(echoCaller()))

	send := func(caller, remote string) int {
		token, err := GenerateToken(secret, caller, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("alice", "10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("alice", "10.0.0.2:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice", "10.0.0.3:1000"))
	assert.Equal(t, http.StatusOK, send("bob", "10.0.0.1:1000"), "limits are per caller")

	now := time.Now()
	rl.now = func() time.Time { return now.Add(time.Hour) }
	rl.Cleanup(time.Minute)
	assert.Equal(t, 0, rl.size())
}

func TestRateLimiterIgnoresCallerHeader(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	handler := HeaderIdentity(rl.Handler(echoCaller()))

	send := func(caller, remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		req.Header.Set(CallerHeader, caller)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("alice", "192.0.2.7:4000"))
	assert.Equal(t, http.StatusTooManyRequests, send("bob", "192.0.2.7:4001"), "rotating the header shares the IP bucket")
	assert.Equal(t, http.StatusOK, send("alice", "192.0.2.8:4000"))
	assert.Equal(t, 2, rl.size())
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = events.RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(httputil.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(httputil.RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestCORS(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example"}).Handler(echoCaller())

	req := httptest.NewRequest(http.MethodOptions, "/v1/deposit", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.app.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	m := metrics.New("test")
	r := mux.NewRouter()
	r.Use(MetricsMiddleware("ledger", m), LoggingMiddleware(quietLogger()))
	r.HandleFunc("/v1/accounts/{account}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/alice", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count, err := testutil.GatherAndCount(m.Registry, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
