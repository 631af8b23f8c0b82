// Package httpapi exposes the ledger service over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/vault_ledger/internal/metrics"
	"github.com/R3E-Network/vault_ledger/internal/middleware"
	"github.com/R3E-Network/vault_ledger/internal/service"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

const serviceName = "ledgerd"

// Options configures the handler chain.
type Options struct {
	// JWTSecret enables bearer-token auth. Empty trusts the X-Ledger-Caller header.
	JWTSecret   []byte
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	// StreamPing is the websocket keepalive interval.
	StreamPing time.Duration
}

type handler struct {
	svc      *service.Service
	log      *logger.Logger
	upgrader websocket.Upgrader
	ping     time.Duration
}

// NewHandler builds the HTTP surface of svc.
func NewHandler(svc *service.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("httpapi")
	}
	if opts.StreamPing == 0 {
		opts.StreamPing = 30 * time.Second
	}
	h := &handler{
		svc:  svc,
		log:  opts.Logger,
		ping: opts.StreamPing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	if opts.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(serviceName, opts.Metrics))
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.Use(middleware.LoggingMiddleware(opts.Logger))
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	if len(opts.JWTSecret) > 0 {
		api.Use(middleware.NewAuthMiddleware(opts.JWTSecret, opts.Logger.Named("auth"), nil).Handler)
	} else {
		api.Use(middleware.HeaderIdentity)
	}
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}

	api.HandleFunc("/ledger", h.ledger).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}", h.account).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/yield", h.userYield).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/withdrawal", h.withdrawalRequest).Methods(http.MethodGet)
	api.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/stream", h.stream).Methods(http.MethodGet)

	write := api.NewRoute().Subrouter()
	write.Use(middleware.RequireCaller)
	write.HandleFunc("/initialize", h.initialize).Methods(http.MethodPost)
	write.HandleFunc("/deposit", h.deposit).Methods(http.MethodPost)
	write.HandleFunc("/withdraw", h.withdraw).Methods(http.MethodPost)
	write.HandleFunc("/withdrawals/request", h.requestWithdrawal).Methods(http.MethodPost)
	write.HandleFunc("/withdrawals/execute", h.executeWithdrawal).Methods(http.MethodPost)
	write.HandleFunc("/withdrawals/emergency", h.emergencyWithdraw).Methods(http.MethodPost)
	write.HandleFunc("/yield/claim", h.claimYield).Methods(http.MethodPost)
	write.HandleFunc("/accounts/{account}/settle", h.settleYield).Methods(http.MethodPost)

	admin := write.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/fee", h.setDepositFee).Methods(http.MethodPut)
	admin.HandleFunc("/yield-rate", h.setYieldRate).Methods(http.MethodPut)
	admin.HandleFunc("/withdrawal-delay", h.setWithdrawalDelay).Methods(http.MethodPut)
	admin.HandleFunc("/pause", h.pause).Methods(http.MethodPost)
	admin.HandleFunc("/unpause", h.unpause).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{permission}/{identity}", h.grantRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{permission}/{identity}", h.revokeRole).Methods(http.MethodDelete)
	admin.HandleFunc("/upgrade", h.upgrade).Methods(http.MethodPost)

	var out http.Handler = r
	if len(opts.CORSOrigins) > 0 {
		out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	}
	return middleware.RequestID(out)
}
