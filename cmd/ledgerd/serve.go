package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/vault_ledger/internal/asset/httpasset"
	assetmem "github.com/R3E-Network/vault_ledger/internal/asset/memory"
	"github.com/R3E-Network/vault_ledger/internal/config"
	"github.com/R3E-Network/vault_ledger/internal/events"
	"github.com/R3E-Network/vault_ledger/internal/httpapi"
	"github.com/R3E-Network/vault_ledger/internal/ledger"
	"github.com/R3E-Network/vault_ledger/internal/metrics"
	"github.com/R3E-Network/vault_ledger/internal/middleware"
	"github.com/R3E-Network/vault_ledger/internal/service"
	"github.com/R3E-Network/vault_ledger/internal/storage"
	storemem "github.com/R3E-Network/vault_ledger/internal/storage/memory"
	"github.com/R3E-Network/vault_ledger/internal/storage/migrations"
	"github.com/R3E-Network/vault_ledger/internal/storage/postgres"
	"github.com/R3E-Network/vault_ledger/internal/storage/redis"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config (default $LEDGER_CONFIG or config/ledger.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      app.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).
			WithField("generation", app.svc.Ledger().Version).
			Info("ledgerd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := app.svc.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("final checkpoint failed")
		return err
	}
	log.Info("ledgerd stopped")
	return nil
}

// application is a fully wired ledgerd instance.
type application struct {
	svc     *service.Service
	handler http.Handler
	closers []func() error
	stop    chan struct{}
}

func (a *application) close() {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

// build wires the store, asset, ledger, service and HTTP handler described by cfg.
func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *application, err error) {
	app := &application{stop: make(chan struct{})}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	store, err := openStore(ctx, cfg, log, app)
	if err != nil {
		return nil, err
	}
	asset, err := openAsset(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	state, err := service.LoadState(ctx, store, cfg.LedgerGeneration(), log.Named("service"))
	if err != nil {
		return nil, err
	}
	if remote, ok := asset.(*httpasset.Client); ok {
		reconcileVault(ctx, remote, cfg.Ledger.VaultAccount, state, log)
	}

	evs := events.NewRingBuffer(cfg.Ledger.EventBuffer)
	l := ledger.New(state, ledger.Options{
		Asset:  asset,
		Events: evs,
		Logger: log.Named("ledger"),
	})

	m := metrics.New("vault_ledger")
	app.svc = service.New(l, service.Options{
		Store:   store,
		Metrics: m,
		Events:  evs,
		Logger:  log.Named("service"),
	})

	if !state.Initialized() && cfg.Ledger.Asset != "" && cfg.Ledger.Admin != "" {
		if err := app.svc.Initialize(ctx, cfg.Ledger.Asset, cfg.Ledger.Admin, cfg.Ledger.DepositFeeBps); err != nil {
			return nil, fmt.Errorf("initialize ledger: %w", err)
		}
		log.WithField("asset", cfg.Ledger.Asset).WithField("admin", cfg.Ledger.Admin).Info("ledger initialized from config")
	}

	opts := httpapi.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     m,
		Logger:      log.Named("http"),
	}
	if cfg.Auth.Enabled {
		opts.JWTSecret = []byte(cfg.Auth.JWTSecret)
	}
	if cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log.Named("ratelimit"))
		rl.StartCleanup(time.Minute, app.stop)
		opts.RateLimiter = rl
	}
	app.handler = httpapi.NewHandler(app.svc, opts)

	if cfg.Checkpoint.Enabled {
		if err := app.svc.StartCheckpoints(cfg.Checkpoint.Schedule); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// openStore picks Postgres when a DSN is set, then Redis, then memory.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, app *application) (storage.SnapshotStore, error) {
	switch {
	case cfg.Database.DSN != "":
		store, db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db, log.Named("migrations")); err != nil {
				return nil, err
			}
		}
		log.Info("using postgres snapshot store")
		return store, nil
	case cfg.Redis.Addr != "":
		store := redis.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
		app.closers = append(app.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.WithField("key", cfg.Redis.Key).Info("using redis snapshot store")
		return store, nil
	default:
		log.Warn("no database or redis configured; ledger state is kept in memory only")
		return storemem.New(), nil
	}
}

// openAsset picks the remote asset ledger when a URL is configured and checks
// that it answers.
func openAsset(ctx context.Context, cfg *config.Config, log *logger.Logger) (ledger.Asset, error) {
	if cfg.Ledger.AssetURL == "" {
		log.Warn("no asset ledger configured; using the in-memory asset")
		mem := assetmem.New()
		for holder, amount := range cfg.Ledger.DevBalances {
			mem.Mint(holder, amount)
		}
		return mem, nil
	}
	client, err := httpasset.New(httpasset.Config{
		BaseURL:    cfg.Ledger.AssetURL,
		Token:      cfg.Ledger.AssetToken,
		Vault:      cfg.Ledger.VaultAccount,
		Asset:      cfg.Ledger.Asset,
		Timeout:    cfg.Ledger.AssetTimeout,
		MaxRetries: 3,
	}, log.Named("asset"))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping asset ledger: %w", err)
	}
	log.WithField("url", cfg.Ledger.AssetURL).Info("using remote asset ledger")
	return client, nil
}

// reconcileVault warns when the remote vault holds less than the ledger owes.
func reconcileVault(ctx context.Context, client *httpasset.Client, vault string, state *ledger.State, log *logger.Logger) bool {
	held, err := client.BalanceOf(ctx, vault)
	if err != nil {
		log.WithError(err).Warn("vault balance unavailable; skipping reconciliation")
		return false
	}
	entry := log.WithField("vault", vault).
		WithField("held", held).
		WithField("total_deposits", state.TotalDeposits)
	if held < state.TotalDeposits {
		entry.Warn("vault holds less than total deposits")
		return false
	}
	entry.Info("vault reconciled")
	return true
}
