package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/R3E-Network/vault_ledger/internal/config"
	"github.com/R3E-Network/vault_ledger/internal/middleware"
	"github.com/R3E-Network/vault_ledger/internal/schema"
	"github.com/R3E-Network/vault_ledger/internal/storage/migrations"
	"github.com/R3E-Network/vault_ledger/internal/storage/postgres"
	"github.com/R3E-Network/vault_ledger/pkg/logger"
)

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config")
	generation := fs.Int("generation", 0, "migrate to the schema of this generation (default latest)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn (DATABASE_URL) is required")
	}
	log := logger.New(cfg.Logging).Named("migrations")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	store, db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if *generation == 0 {
		return migrations.Up(db, log)
	}
	g := schema.Generation(*generation)
	if err := migrations.To(db, g); err != nil {
		return err
	}
	log.WithField("generation", g.Version()).Info("schema migrated")
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config")
	user := fs.String("user", "", "identity to embed as user_id")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (LEDGER_JWT_SECRET) is required")
	}
	token, err := middleware.GenerateToken([]byte(cfg.Auth.JWTSecret), *user, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
